// Package kafka is the production broker driver, built on IBM/sarama.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"txpub/broker"
	"txpub/internal/logging"
)

type driver struct {
	brokers []string
	cfg     *sarama.Config
	txnID   string
}

// New validates settings into a sarama config. No connection is opened
// until NewAdmin or NewProducer.
func New(s broker.Settings) (broker.Driver, error) {
	if len(s.Brokers) == 0 {
		return nil, errors.New("kafka: no bootstrap servers")
	}
	cfg, err := newSaramaConfig(s)
	if err != nil {
		return nil, err
	}
	sarama.Logger = logging.StdLogger("sarama", slog.LevelDebug)
	return &driver{brokers: s.Brokers, cfg: cfg, txnID: s.TransactionalID}, nil
}

func (d *driver) NewAdmin(ctx context.Context) (broker.Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ca, err := sarama.NewClusterAdmin(d.brokers, d.cfg)
	if err != nil {
		return nil, classify(err)
	}
	return &admin{ca: ca}, nil
}

func (d *driver) NewProducer(ctx context.Context) (broker.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.txnID == "" {
		return nil, errors.New("kafka: transactional id required")
	}
	return &producer{brokers: d.brokers, cfg: d.cfg, txnID: d.txnID, newAsync: sarama.NewAsyncProducer}, nil
}

/* ────────── admin ────────── */

type admin struct {
	ca sarama.ClusterAdmin
}

func (a *admin) CreateTopic(ctx context.Context, spec broker.TopicSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.ca.CreateTopic(spec.Name, &sarama.TopicDetail{
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
	}, false)
	return classify(err)
}

// DescribeTopic reports the replication factor as the replica count of the
// first partition.
func (a *admin) DescribeTopic(ctx context.Context, name string) (broker.TopicSpec, error) {
	if err := ctx.Err(); err != nil {
		return broker.TopicSpec{}, err
	}
	md, err := a.ca.DescribeTopics([]string{name})
	if err != nil {
		return broker.TopicSpec{}, classify(err)
	}
	if len(md) == 0 {
		return broker.TopicSpec{}, classify(sarama.ErrUnknownTopicOrPartition)
	}
	return topicSpec(md[0])
}

func topicSpec(md *sarama.TopicMetadata) (broker.TopicSpec, error) {
	if md.Err != sarama.ErrNoError {
		return broker.TopicSpec{}, classify(md.Err)
	}
	spec := broker.TopicSpec{Name: md.Name, Partitions: int32(len(md.Partitions))}
	if len(md.Partitions) > 0 {
		spec.ReplicationFactor = int16(len(md.Partitions[0].Replicas))
	}
	return spec, nil
}

func (a *admin) Close() error {
	return a.ca.Close()
}

/* ────────── producer ────────── */

type producer struct {
	brokers []string
	cfg     *sarama.Config
	txnID   string

	newAsync func([]string, *sarama.Config) (sarama.AsyncProducer, error)

	p    sarama.AsyncProducer
	done chan struct{}

	mu      sync.Mutex
	lastErr error
}

// InitTransactions opens the sarama producer; sarama registers the
// transactional id (InitProducerId) while constructing it. sarama does not
// expose the producer id or epoch, so the identity carries -1 for both.
func (p *producer) InitTransactions(ctx context.Context) (broker.Identity, error) {
	id := broker.Identity{TransactionalID: p.txnID, ProducerID: -1, Epoch: -1}
	if err := ctx.Err(); err != nil {
		return id, err
	}
	if p.p != nil {
		return id, classify(sarama.ErrTransitionNotAllowed)
	}
	ap, err := p.newAsync(p.brokers, p.cfg)
	if err != nil {
		return id, classify(err)
	}
	p.p = ap
	p.done = make(chan struct{})
	go p.drain()
	return id, nil
}

// drain collects asynchronous delivery failures. The first one of the
// current transaction is kept and reported by the next Send.
func (p *producer) drain() {
	defer close(p.done)
	for pe := range p.p.Errors() {
		logging.L().Warn("kafka: delivery failed",
			"topic", pe.Msg.Topic, "partition", pe.Msg.Partition, "err", pe.Err)
		p.mu.Lock()
		if p.lastErr == nil {
			p.lastErr = pe
		}
		p.mu.Unlock()
	}
}

func (p *producer) takeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.lastErr
	p.lastErr = nil
	return err
}

func (p *producer) BeginTxn(ctx context.Context) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	p.takeErr()
	return classifyTxn(p.p.BeginTxn(), p.p.TxnStatus())
}

// Send hands the record to sarama without waiting for the acknowledgment.
// The partition was chosen upstream; sarama assigns its own sequence numbers.
func (p *producer) Send(ctx context.Context, rec broker.Record) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	if err := p.takeErr(); err != nil {
		return classifyTxn(err, p.p.TxnStatus())
	}
	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.StringEncoder(rec.Value),
	}
	select {
	case p.p.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *producer) CommitTxn(ctx context.Context) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	// a delivery already failed: the transaction can only be aborted
	if err := p.takeErr(); err != nil {
		return classifyTxn(err, p.p.TxnStatus())
	}
	if err := p.p.CommitTxn(); err != nil {
		return classifyTxn(err, p.p.TxnStatus())
	}
	return nil
}

func (p *producer) AbortTxn(ctx context.Context) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	err := p.p.AbortTxn()
	p.takeErr()
	if err != nil {
		return classifyTxn(err, p.p.TxnStatus())
	}
	return nil
}

func (p *producer) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.p == nil {
		return classify(sarama.ErrTransactionNotReady)
	}
	return nil
}

// Close shuts the producer down and waits for the error drain to finish.
func (p *producer) Close() error {
	if p.p == nil {
		return nil
	}
	p.p.AsyncClose()
	<-p.done
	p.p = nil
	return nil
}

func init() { broker.Register("sarama", New) }
