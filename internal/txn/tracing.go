package txn

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"txpub/broker"
	"txpub/internal/tracing"
)

// TracedSession wraps a Transactional with spans.
// Layer order: TracedSession -> MetricsSession -> Session.
type TracedSession struct {
	Transactional
	tracer *tracing.Tracer
}

func NewTracedSession(s Transactional, tracer *tracing.Tracer) Transactional {
	return &TracedSession{Transactional: s, tracer: tracer}
}

func (t *TracedSession) InitTransactions(ctx context.Context) (broker.Identity, error) {
	ctx, span := t.start(ctx, "txn.init")
	defer span.End()
	id, err := t.Transactional.InitTransactions(ctx)
	t.finish(ctx, span, err)
	return id, err
}

func (t *TracedSession) BeginTransaction(ctx context.Context) error {
	ctx, span := t.start(ctx, "txn.begin")
	defer span.End()
	err := t.Transactional.BeginTransaction(ctx)
	t.finish(ctx, span, err)
	return err
}

func (t *TracedSession) Send(ctx context.Context, rec broker.Record) error {
	ctx, span := t.start(ctx, "txn.send")
	defer span.End()
	span.SetAttributes(t.tracer.RecordAttributes(rec.Topic, rec.Partition, rec.Key)...)
	err := t.Transactional.Send(ctx, rec)
	t.finish(ctx, span, err)
	return err
}

func (t *TracedSession) CommitTransaction(ctx context.Context) error {
	ctx, span := t.start(ctx, "txn.commit")
	defer span.End()
	err := t.Transactional.CommitTransaction(ctx)
	t.finish(ctx, span, err)
	return err
}

func (t *TracedSession) AbortTransaction(ctx context.Context) error {
	ctx, span := t.start(ctx, "txn.abort")
	defer span.End()
	err := t.Transactional.AbortTransaction(ctx)
	t.finish(ctx, span, err)
	return err
}

func (t *TracedSession) start(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := t.tracer.StartSpan(ctx, name)
	span.SetAttributes(t.tracer.TxnAttributes(t.TransactionalID(), t.State().String())...)
	return ctx, span
}

func (t *TracedSession) finish(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		t.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(t.tracer.ErrorAttributes(err)...)
}
