package publish

import (
	"fmt"
	"io"
	"sync"

	"txpub/broker"
)

// Console prints the operator-facing progress lines. Structured logs go to
// stderr through internal/logging; these go to stdout.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) Identity(transactionalID string) {
	c.printf("*** transactional.id %s ***", transactionalID)
}

func (c *Console) Begin()  { c.printf("*** Begin Transaction ***") }
func (c *Console) Commit() { c.printf("*** Commit Transaction ***") }
func (c *Console) Abort()  { c.printf("*** Abort Transaction ***") }

func (c *Console) Sent(rec broker.Record) {
	c.printf("Sent %s:%s", rec.Key, rec.Value)
}

func (c *Console) Fenced() { c.printf("PRODUCER FENCED") }

func (c *Console) Fatal(err error) { c.printf("FATAL: %v", err) }

func (c *Console) Retrying(attempt, of int, cause error) {
	c.printf("RETRYING (attempt %d of %d): %v", attempt, of, cause)
}

func (c *Console) Exhausted() { c.printf("RETRIES EXHAUSTED") }
