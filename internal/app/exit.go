package app

import (
	"errors"

	"txpub/internal/admin"
	"txpub/internal/config"
	"txpub/internal/txn"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1 // unexpected error or interrupted
	ExitConfig  = 2
	ExitAdmin   = 3
	ExitFenced  = 4
	ExitFatal   = 5 // fatal transaction error or retries exhausted
)

func ExitCode(err error) int {
	var (
		ce *config.Error
		ae *admin.Error
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ce):
		return ExitConfig
	case errors.As(err, &ae):
		return ExitAdmin
	case errors.Is(err, txn.ErrFenced):
		return ExitFenced
	case errors.Is(err, txn.ErrFatal):
		return ExitFatal
	}
	return ExitFailure
}
