package txn

import (
	"errors"
	"fmt"

	"txpub/broker"
)

type Kind int

const (
	// KindRecoverable leaves the transaction open; abort it and try again.
	KindRecoverable Kind = iota
	KindFenced
	KindFatal
	KindIllegalState
)

func (k Kind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindFenced:
		return "fenced"
	case KindFatal:
		return "fatal"
	case KindIllegalState:
		return "illegal state"
	}
	return "unknown"
}

// Sentinels matched by *Error through errors.Is.
var (
	ErrRecoverable  = errors.New("txn: recoverable")
	ErrFenced       = errors.New("txn: fenced")
	ErrFatal        = errors.New("txn: fatal")
	ErrIllegalState = errors.New("txn: illegal state")
)

type Error struct {
	Op    string
	Kind  Kind
	State State // session state after the failure
	Err   error

	repeated bool // rejected because the session was already terminal
}

func (e *Error) Error() string {
	return fmt.Sprintf("txn %s: %s (state %s): %v", e.Op, e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRecoverable:
		return e.Kind == KindRecoverable
	case ErrFenced:
		return e.Kind == KindFenced
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrIllegalState:
		return e.Kind == KindIllegalState
	}
	return false
}

// Classify decides what a broker failure means for the session. Fencing and
// the unrecoverable producer errors end the session; anything else can be
// aborted and retried.
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, broker.ErrFenced):
		return KindFenced
	case errors.Is(err, broker.ErrOutOfOrderSequence),
		errors.Is(err, broker.ErrAuthorization),
		errors.Is(err, broker.ErrInvalidTxnState),
		errors.Is(err, broker.ErrClosed):
		return KindFatal
	}
	return KindRecoverable
}
