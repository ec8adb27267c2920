package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"txpub/broker"
	"txpub/internal/logging"
)

// Transactional is the session surface the publish loop drives. Session
// implements it; the metrics and tracing decorators wrap it.
type Transactional interface {
	TransactionalID() string
	State() State
	InitTransactions(ctx context.Context) (broker.Identity, error)
	BeginTransaction(ctx context.Context) error
	Send(ctx context.Context, rec broker.Record) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close() error
}

type partitionKey struct {
	topic     string
	partition int32
}

// Session owns one transactional producer connection and its state machine.
// It is not safe for concurrent transactions; the mutex only keeps State()
// readable from other goroutines.
type Session struct {
	mu       sync.Mutex
	id       string
	producer broker.Producer
	identity broker.Identity
	state    State
	cause    error // what moved the session into a terminal state
	seqs     map[partitionKey]int32
	closed   bool

	closeOnce sync.Once
	closeErr  error

	log *slog.Logger
}

func NewSession(transactionalID string, p broker.Producer) *Session {
	return &Session{
		id:       transactionalID,
		producer: p,
		seqs:     make(map[partitionKey]int32),
		log:      logging.L().With("transactional_id", transactionalID),
	}
}

func (s *Session) TransactionalID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() broker.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// InitTransactions registers the transactional id with the coordinator. Any
// earlier session holding the same id is fenced by the epoch bump.
func (s *Session) InitTransactions(ctx context.Context) (broker.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const op = "init"
	if err := s.guardLocked(op, Uninitialized); err != nil {
		return broker.Identity{}, err
	}
	id, err := s.producer.InitTransactions(ctx)
	if err != nil {
		kind := Classify(err)
		if kind == KindRecoverable {
			// no transaction exists yet, so there is nothing to abort and retry
			kind = KindFatal
		}
		return broker.Identity{}, s.failLocked(op, err, kind)
	}
	s.identity = id
	s.seqs = make(map[partitionKey]int32)
	s.state = Initialized
	s.log.Info("transactions initialized", "producer_id", id.ProducerID, "epoch", id.Epoch)
	return id, nil
}

func (s *Session) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const op = "begin"
	if err := s.guardLocked(op, Initialized, Committed, Aborted); err != nil {
		return err
	}
	if err := s.producer.BeginTxn(ctx); err != nil {
		return s.failLocked(op, err, Classify(err))
	}
	s.state = Open
	s.log.Debug("transaction open")
	return nil
}

// Send assigns the next sequence for the record's partition and hands it to
// the producer. The sequence only advances once the producer accepted it.
func (s *Session) Send(ctx context.Context, rec broker.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const op = "send"
	if err := s.guardLocked(op, Open); err != nil {
		return err
	}
	if rec.Partition < 0 {
		return &Error{Op: op, Kind: KindIllegalState, State: s.state, Err: errors.New("record has no partition")}
	}
	k := partitionKey{rec.Topic, rec.Partition}
	rec.Sequence = s.seqs[k]
	if err := s.producer.Send(ctx, rec); err != nil {
		return s.failLocked(op, err, Classify(err))
	}
	s.seqs[k] = rec.Sequence + 1
	s.log.Debug("record sent", "topic", rec.Topic, "partition", rec.Partition, "key", rec.Key, "sequence", rec.Sequence)
	return nil
}

// CommitTransaction blocks until the broker acknowledged every queued record
// and the commit marker is written.
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const op = "commit"
	if err := s.guardLocked(op, Open); err != nil {
		return err
	}
	if err := s.producer.CommitTxn(ctx); err != nil {
		return s.failLocked(op, err, Classify(err))
	}
	s.state = Committed
	s.log.Info("transaction committed")
	return nil
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const op = "abort"
	if err := s.guardLocked(op, Open); err != nil {
		return err
	}
	if err := s.producer.AbortTxn(ctx); err != nil {
		kind := Classify(err)
		if kind == KindRecoverable {
			// an open transaction that cannot be aborted cannot be reused
			kind = KindFatal
		}
		return s.failLocked(op, err, kind)
	}
	s.state = Aborted
	s.log.Info("transaction aborted")
	return nil
}

// Close releases the producer connection. It is valid in any state and only
// the first call reaches the producer.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.producer.Close()
		s.log.Debug("session closed", "state", s.State().String())
	})
	return s.closeErr
}

// must be called with s.mu held
func (s *Session) guardLocked(op string, allowed ...State) error {
	if s.state.Terminal() {
		kind := KindFatal
		if s.state == Fenced {
			kind = KindFenced
		}
		return &Error{Op: op, Kind: kind, State: s.state, Err: s.cause, repeated: true}
	}
	if s.closed {
		return &Error{Op: op, Kind: KindIllegalState, State: s.state, Err: broker.ErrClosed}
	}
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return &Error{Op: op, Kind: KindIllegalState, State: s.state, Err: fmt.Errorf("%s not allowed while %s", op, s.state)}
}

// must be called with s.mu held
func (s *Session) failLocked(op string, err error, kind Kind) error {
	switch kind {
	case KindFenced:
		s.state, s.cause = Fenced, err
		s.log.Warn("producer fenced", "op", op, "err", err)
	case KindFatal:
		s.state, s.cause = Fatal, err
		s.log.Error("fatal transaction error", "op", op, "err", err)
	default:
		s.log.Warn("recoverable transaction error", "op", op, "err", err)
	}
	return &Error{Op: op, Kind: kind, State: s.state, Err: err}
}
