package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txpub/broker"
)

type fakeSender struct {
	got    []broker.Record
	failAt int // 1-based; 0 never fails
	err    error
}

func (f *fakeSender) Send(_ context.Context, rec broker.Record) error {
	f.got = append(f.got, rec)
	if len(f.got) == f.failAt {
		return f.err
	}
	return nil
}

type countingPacer struct {
	calls []int
	err   error
}

func (p *countingPacer) Wait(_ context.Context, sent int) error {
	p.calls = append(p.calls, sent)
	return p.err
}

func batch(n int, partition int32) []broker.Record {
	recs := make([]broker.Record, n)
	for i := range recs {
		recs[i] = broker.Record{Topic: topic, Partition: partition, Key: fmt.Sprint(i), Value: "7"}
	}
	return recs
}

func TestSequencer_PublishesInOrder(t *testing.T) {
	pacer := &countingPacer{}
	s := &fakeSender{}
	n, err := NewSequencer(1, pacer).Publish(context.Background(), s, batch(10, broker.AnyPartition))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	require.Len(t, s.got, 10)
	for i, rec := range s.got {
		assert.Equal(t, fmt.Sprint(i), rec.Key)
		assert.Equal(t, int32(0), rec.Partition)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, pacer.calls)
}

func TestSequencer_FailFast(t *testing.T) {
	denied := fmt.Errorf("%w: topic %s", broker.ErrAuthorization, topic)
	s := &fakeSender{failAt: 3, err: denied}
	pacer := &countingPacer{}

	n, err := NewSequencer(1, pacer).Publish(context.Background(), s, batch(10, 0))
	assert.ErrorIs(t, err, broker.ErrAuthorization)
	assert.Equal(t, 2, n)
	assert.Len(t, s.got, 3, "the remaining seven are never handed over")
	assert.Equal(t, []int{1, 2}, pacer.calls)
}

func TestSequencer_HashPartitioning(t *testing.T) {
	s := &fakeSender{}
	_, err := NewSequencer(3, nil).Publish(context.Background(), s, batch(20, broker.AnyPartition))
	require.NoError(t, err)

	hp := sarama.NewHashPartitioner(topic)
	for _, rec := range s.got {
		want, err := hp.Partition(&sarama.ProducerMessage{Topic: topic, Key: sarama.StringEncoder(rec.Key)}, 3)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Partition, "key %s", rec.Key)
		assert.GreaterOrEqual(t, rec.Partition, int32(0))
		assert.Less(t, rec.Partition, int32(3))
	}
}

func TestSequencer_KeepsExplicitPartition(t *testing.T) {
	s := &fakeSender{}
	_, err := NewSequencer(3, nil).Publish(context.Background(), s, batch(4, 2))
	require.NoError(t, err)
	for _, rec := range s.got {
		assert.Equal(t, int32(2), rec.Partition)
	}
}

func TestSequencer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSender{}
	n, err := NewSequencer(1, nil).Publish(ctx, s, batch(5, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, s.got)
}

func TestSequencer_PacerErrorStops(t *testing.T) {
	stop := errors.New("input closed")
	s := &fakeSender{}
	n, err := NewSequencer(1, &countingPacer{err: stop}).Publish(context.Background(), s, batch(5, 0))
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
	assert.Len(t, s.got, 1)
}
