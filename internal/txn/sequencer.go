package txn

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"txpub/broker"
)

type Sender interface {
	Send(ctx context.Context, rec broker.Record) error
}

// Pacer is consulted after every successful send. sent counts the records
// sent so far in the current batch.
type Pacer interface {
	Wait(ctx context.Context, sent int) error
}

// Sequencer publishes a batch of records in order, stopping at the first
// failure.
type Sequencer struct {
	partitions int32
	pacer      Pacer
}

func NewSequencer(partitions int32, pacer Pacer) *Sequencer {
	if partitions <= 0 {
		partitions = 1
	}
	return &Sequencer{partitions: partitions, pacer: pacer}
}

// Publish returns how many records were sent. Records after a failed one are
// never handed to the sender.
func (q *Sequencer) Publish(ctx context.Context, s Sender, recs []broker.Record) (int, error) {
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if rec.Partition == broker.AnyPartition {
			p, err := q.partition(rec)
			if err != nil {
				return i, err
			}
			rec.Partition = p
		}
		if err := s.Send(ctx, rec); err != nil {
			return i, err
		}
		if q.pacer != nil {
			if err := q.pacer.Wait(ctx, i+1); err != nil {
				return i + 1, err
			}
		}
	}
	return len(recs), nil
}

// partition places a keyed record the way sarama's default hash partitioner
// would, so the in-memory and Kafka drivers agree on placement.
func (q *Sequencer) partition(rec broker.Record) (int32, error) {
	if q.partitions == 1 {
		return 0, nil
	}
	p, err := sarama.NewHashPartitioner(rec.Topic).Partition(&sarama.ProducerMessage{
		Topic: rec.Topic,
		Key:   sarama.StringEncoder(rec.Key),
	}, q.partitions)
	if err != nil {
		return 0, fmt.Errorf("partition %s/%s: %w", rec.Topic, rec.Key, err)
	}
	return p, nil
}
