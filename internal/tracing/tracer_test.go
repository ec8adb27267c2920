package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_NoEndpoint(t *testing.T) {
	tr, cleanup, err := NewTracer(Config{SampleRate: 1})
	require.NoError(t, err)

	_, span := tr.StartSpan(context.Background(), "txn.commit")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, cleanup(context.Background()))
}

func TestTracer_RecordError(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	tr := FromProvider(tp, "test")

	ctx, span := tr.StartSpan(context.Background(), "txn.send")
	span.SetAttributes(tr.RecordAttributes("orders", 2, "7")...)
	tr.RecordError(ctx, errors.New("boom"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "txn.send", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Len(t, spans[0].Events, 1, "error recorded as span event")
}

func TestTracer_ErrorAttributes(t *testing.T) {
	tr := FromProvider(sdktrace.NewTracerProvider(), "test")
	assert.Len(t, tr.ErrorAttributes(nil), 1)
	assert.Len(t, tr.ErrorAttributes(errors.New("x")), 3)
}
