package publish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"txpub/internal/plan"
	"txpub/internal/txn"
)

// Pacer decides how long to wait after each sent record.
type Pacer = txn.Pacer

var ErrPacerClosed = errors.New("pacer closed")

// NewPacer builds the strategy named by p. in is only read in interactive
// mode.
func NewPacer(p plan.Pacing, in io.Reader) (Pacer, error) {
	switch p.Mode {
	case "", plan.DefaultPacing:
		return NoPacing{}, nil
	case "interactive":
		return NewInteractive(in), nil
	case "interval":
		return Interval(time.Duration(p.IntervalMS) * time.Millisecond), nil
	case "rate":
		return NewRate(p.RatePerSec), nil
	}
	return nil, fmt.Errorf("unknown pacing mode %q", p.Mode)
}

/* ────────── none ────────── */

type NoPacing struct{}

func (NoPacing) Wait(context.Context, int) error { return nil }

/* ────────── interval ────────── */

type Interval time.Duration

func (d Interval) Wait(ctx context.Context, _ int) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

/* ────────── interactive ────────── */

// Interactive blocks until the operator enters a line. Once the input is
// exhausted it stops pausing. Close releases the reader goroutine; one blocked
// inside a Read on a terminal exits after that Read returns.
type Interactive struct {
	in    io.Reader
	once  sync.Once
	lines chan struct{}

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewInteractive(in io.Reader) *Interactive {
	if in == nil {
		in = os.Stdin
	}
	return &Interactive{
		in:    in,
		lines: make(chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (p *Interactive) Wait(ctx context.Context, _ int) error {
	select {
	case <-p.stop:
		return ErrPacerClosed
	default:
	}
	p.once.Do(func() { go p.read() })
	select {
	case <-p.lines:
		return nil
	case <-p.stop:
		return ErrPacerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Interactive) read() {
	defer close(p.done)
	defer close(p.lines)
	sc := bufio.NewScanner(p.in)
	for sc.Scan() {
		select {
		case p.lines <- struct{}{}:
		case <-p.stop:
			return
		}
	}
}

func (p *Interactive) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		// never started: nothing to wait for
		p.once.Do(func() { close(p.done) })
	})
	return nil
}

/* ────────── rate ────────── */

// Rate is a token bucket: capacity tokens, one added every second/perSec.
type Rate struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
	stop   chan struct{}
}

func NewRate(perSec int) *Rate {
	if perSec <= 0 {
		perSec = 1
	}
	r := &Rate{
		capacity: int64(perSec),
		tokens:   int64(perSec),
		stop:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	go func() {
		t := time.NewTicker(time.Second / time.Duration(perSec))
		defer t.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-t.C:
			}
			r.mu.Lock()
			if r.tokens < r.capacity {
				r.tokens++
			}
			r.mu.Unlock()
			r.cond.Broadcast()
		}
	}()
	return r
}

func (r *Rate) Wait(ctx context.Context, _ int) error {
	// wake the waiter when ctx ends; cond.Wait cannot select on it
	unregister := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer unregister()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.tokens == 0 && !r.closed && ctx.Err() == nil {
		r.cond.Wait()
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case r.closed:
		return ErrPacerClosed
	}
	r.tokens--
	return nil
}

func (r *Rate) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	r.mu.Unlock()
	r.cond.Broadcast()
	return nil
}
