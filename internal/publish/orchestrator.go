// Package publish runs one transactional publish: provision the topic, open a
// session, send a batch of records in a transaction and commit it, retrying
// recoverable failures a bounded number of times.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"txpub/broker"
	"txpub/internal/admin"
	"txpub/internal/logging"
	"txpub/internal/telemetry"
	"txpub/internal/tracing"
	"txpub/internal/txn"
)

// ErrRetriesExhausted is returned once every attempt failed recoverably. The
// returned error also matches txn.ErrFatal.
var ErrRetriesExhausted = errors.New("retries exhausted")

const defaultAbortTimeout = 10 * time.Second

type Config struct {
	Topic   broker.TopicSpec
	Records int
	Retries int // attempts after the first

	Pacer   Pacer    // nil means no pacing
	Console *Console // nil discards console lines

	Metrics *telemetry.Registry // optional
	Tracer  *tracing.Tracer     // optional
	Rand    *rand.Rand          // value source; nil uses the global one

	// AbortTimeout bounds the abort issued after ctx was canceled.
	AbortTimeout time.Duration

	// OnInitialized runs once the coordinator accepted the session.
	OnInitialized func(broker.Identity)
}

type Result struct {
	TransactionalID string
	Identity        broker.Identity
	Attempts        int
	Records         int // committed records
	// State is the session state on return, or Fatal once retries ran out.
	State txn.State
}

type Orchestrator struct {
	driver          broker.Driver
	transactionalID string
	cfg             Config
	admin           *admin.Channel
	console         *Console
}

func New(d broker.Driver, transactionalID string, cfg Config) *Orchestrator {
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = defaultAbortTimeout
	}
	if cfg.Pacer == nil {
		cfg.Pacer = NoPacing{}
	}
	console := cfg.Console
	if console == nil {
		console = NewConsole(nil)
	}
	return &Orchestrator{
		driver:          d,
		transactionalID: transactionalID,
		cfg:             cfg,
		admin:           admin.NewChannel(d, cfg.Metrics),
		console:         console,
	}
}

// Run provisions the topic and publishes the batch. The session is closed on
// every return path; Result.State is its state at that point, escalated to
// Fatal when every attempt failed.
func (o *Orchestrator) Run(ctx context.Context) (res Result, err error) {
	log := logging.L().With("transactional_id", o.transactionalID, "topic", o.cfg.Topic.Name)
	res.TransactionalID = o.transactionalID

	if _, err := o.admin.EnsureTopic(ctx, o.cfg.Topic); err != nil {
		return res, err
	}

	p, err := o.driver.NewProducer(ctx)
	if err != nil {
		return res, fmt.Errorf("open producer: %w", err)
	}
	s := o.instrument(txn.NewSession(o.transactionalID, p))
	exhausted := false
	defer func() {
		res.State = s.State()
		if exhausted {
			res.State = txn.Fatal
		}
		if cerr := s.Close(); cerr != nil {
			log.Warn("closing session", "err", cerr)
		}
		if c, ok := o.cfg.Pacer.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	o.console.Identity(o.transactionalID)
	id, err := s.InitTransactions(ctx)
	if err != nil {
		return res, o.terminal(err)
	}
	res.Identity = id
	if o.cfg.OnInitialized != nil {
		o.cfg.OnInitialized(id)
	}

	recs := Generate(o.cfg.Topic.Name, o.cfg.Records, o.cfg.Rand)
	seq := txn.NewSequencer(o.cfg.Topic.Partitions, o.cfg.Pacer)
	attempts := 1 + max(o.cfg.Retries, 0)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordAttempt()
		}

		n, err := o.attempt(ctx, s, seq, recs)
		if err == nil {
			res.Records = n
			log.Info("publish committed", "records", n, "attempt", attempt)
			return res, nil
		}
		if ctx.Err() != nil {
			o.abortDetached(ctx, s)
			return res, ctx.Err()
		}
		if txn.Classify(err) != txn.KindRecoverable {
			return res, o.terminal(err)
		}

		log.Warn("attempt failed", "attempt", attempt, "sent", n, "err", err)
		// a failed begin leaves no transaction to abort
		if s.State() == txn.Open {
			if aerr := s.AbortTransaction(ctx); aerr != nil {
				return res, o.terminal(aerr)
			}
			o.console.Abort()
		}
		last = err
		if attempt < attempts {
			o.console.Retrying(attempt+1, attempts, err)
		}
	}

	o.console.Exhausted()
	exhausted = true
	return res, &txn.Error{
		Op:    "publish",
		Kind:  txn.KindFatal,
		State: txn.Fatal,
		Err:   fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last),
	}
}

func (o *Orchestrator) attempt(ctx context.Context, s txn.Transactional, seq *txn.Sequencer, recs []broker.Record) (int, error) {
	if err := s.BeginTransaction(ctx); err != nil {
		return 0, err
	}
	o.console.Begin()
	n, err := seq.Publish(ctx, consoleSender{s, o.console}, recs)
	if err != nil {
		return n, err
	}
	if err := s.CommitTransaction(ctx); err != nil {
		return n, err
	}
	o.console.Commit()
	return n, nil
}

// abortDetached aborts an open transaction after ctx was canceled.
func (o *Orchestrator) abortDetached(ctx context.Context, s txn.Transactional) {
	if s.State() != txn.Open {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AbortTimeout)
	defer cancel()
	if err := s.AbortTransaction(actx); err != nil {
		logging.L().Error("abort after cancel", "err", err)
		return
	}
	o.console.Abort()
}

func (o *Orchestrator) terminal(err error) error {
	if errors.Is(err, txn.ErrFenced) {
		o.console.Fenced()
	} else {
		o.console.Fatal(err)
	}
	return err
}

func (o *Orchestrator) instrument(s *txn.Session) txn.Transactional {
	var t txn.Transactional = s
	if o.cfg.Metrics != nil {
		t = txn.NewMetricsSession(t, o.cfg.Metrics)
	}
	if o.cfg.Tracer != nil {
		t = txn.NewTracedSession(t, o.cfg.Tracer)
	}
	return t
}

// consoleSender echoes every record the session accepted.
type consoleSender struct {
	s       txn.Transactional
	console *Console
}

func (c consoleSender) Send(ctx context.Context, rec broker.Record) error {
	if err := c.s.Send(ctx, rec); err != nil {
		return err
	}
	c.console.Sent(rec)
	return nil
}
