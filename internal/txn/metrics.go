package txn

import (
	"context"
	"errors"
	"time"

	"txpub/broker"
	"txpub/internal/telemetry"
)

// MetricsSession wraps a Transactional with metrics collection.
type MetricsSession struct {
	Transactional
	registry *telemetry.Registry
}

func NewMetricsSession(s Transactional, registry *telemetry.Registry) Transactional {
	return &MetricsSession{Transactional: s, registry: registry}
}

func (m *MetricsSession) InitTransactions(ctx context.Context) (broker.Identity, error) {
	start := time.Now()
	id, err := m.Transactional.InitTransactions(ctx)
	m.record("init", start, err)
	return id, err
}

func (m *MetricsSession) BeginTransaction(ctx context.Context) error {
	start := time.Now()
	err := m.Transactional.BeginTransaction(ctx)
	m.record("begin", start, err)
	return err
}

func (m *MetricsSession) Send(ctx context.Context, rec broker.Record) error {
	start := time.Now()
	err := m.Transactional.Send(ctx, rec)
	m.record("send", start, err)
	if err == nil {
		m.registry.RecordSent(rec.Topic)
	}
	return err
}

func (m *MetricsSession) CommitTransaction(ctx context.Context) error {
	start := time.Now()
	err := m.Transactional.CommitTransaction(ctx)
	m.record("commit", start, err)
	if err == nil {
		m.registry.RecordOutcome("committed")
	}
	return err
}

func (m *MetricsSession) AbortTransaction(ctx context.Context) error {
	start := time.Now()
	err := m.Transactional.AbortTransaction(ctx)
	m.record("abort", start, err)
	if err == nil {
		m.registry.RecordOutcome("aborted")
	}
	return err
}

func (m *MetricsSession) record(op string, start time.Time, err error) {
	m.registry.RecordTxnOperation(op, time.Since(start), err)
	if err == nil {
		return
	}
	// count the transition into a terminal state, not repeats of it
	var te *Error
	if errors.As(err, &te) && !te.repeated {
		switch te.Kind {
		case KindFenced:
			m.registry.RecordOutcome("fenced")
		case KindFatal:
			m.registry.RecordOutcome("fatal")
		}
	}
}
