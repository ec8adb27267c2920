package config

import "fmt"

// Error reports a configuration that is missing, unreadable, malformed or
// invalid. Nothing reaches the broker once one is returned.
type Error struct {
	Path string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	case e.Path != "":
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }
