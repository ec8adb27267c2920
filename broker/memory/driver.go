package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txpub/broker"
)

type driver struct {
	c        *Cluster
	settings broker.Settings
}

func (d *driver) NewAdmin(ctx context.Context) (broker.Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.c.acquire()
	return &admin{c: d.c}, nil
}

func (d *driver) NewProducer(ctx context.Context) (broker.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.settings.TransactionalID == "" {
		return nil, errors.New("memory: transactional id required")
	}
	d.c.acquire()
	return &producer{
		c:       d.c,
		txnID:   d.settings.TransactionalID,
		timeout: d.settings.TransactionTimeout,
	}, nil
}

/* ────────── admin ────────── */

type admin struct {
	c      *Cluster
	closed bool
}

func (a *admin) CreateTopic(_ context.Context, spec broker.TopicSpec) error {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.closed {
		return broker.ErrClosed
	}
	if err := c.enterLocked(OpCreateTopic); err != nil {
		return err
	}
	if spec.Partitions <= 0 {
		return fmt.Errorf("%w: %d", broker.ErrInvalidPartitions, spec.Partitions)
	}
	if spec.ReplicationFactor <= 0 || int(spec.ReplicationFactor) > c.brokers {
		return fmt.Errorf("%w: %d with %d available brokers", broker.ErrInvalidReplicationFactor, spec.ReplicationFactor, c.brokers)
	}
	if _, ok := c.topics[spec.Name]; ok {
		return fmt.Errorf("%w: %s", broker.ErrTopicExists, spec.Name)
	}
	c.topics[spec.Name] = &topicLog{spec: spec, parts: make([][]broker.Record, spec.Partitions)}
	return nil
}

func (a *admin) DescribeTopic(_ context.Context, name string) (broker.TopicSpec, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.closed {
		return broker.TopicSpec{}, broker.ErrClosed
	}
	if err := c.enterLocked(OpDescribeTopic); err != nil {
		return broker.TopicSpec{}, err
	}
	t, ok := c.topics[name]
	if !ok {
		return broker.TopicSpec{}, fmt.Errorf("%w: %s", broker.ErrUnknownTopic, name)
	}
	return t.spec, nil
}

func (a *admin) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.c.release()
	return nil
}

/* ────────── producer ────────── */

type producer struct {
	c       *Cluster
	txnID   string
	timeout time.Duration
	id      broker.Identity
	inited  bool
	closed  bool
}

// InitTransactions registers the transactional id with the coordinator.
// A known id gets its epoch bumped, which aborts whatever the previous
// holder left open and fences it out.
func (p *producer) InitTransactions(_ context.Context) (broker.Identity, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.closed {
		return broker.Identity{}, broker.ErrClosed
	}
	if err := c.enterLocked(OpInit); err != nil {
		return broker.Identity{}, err
	}
	if c.denyTxnIDs[p.txnID] {
		return broker.Identity{}, fmt.Errorf("%w: transactional id %s", broker.ErrAuthorization, p.txnID)
	}
	e, ok := c.txns[p.txnID]
	if !ok {
		c.nextPID++
		e = &txnEntry{pid: c.nextPID}
		c.txns[p.txnID] = e
	} else {
		e.pending = nil
		e.ongoing = false
		e.epoch++
	}
	e.timeout = p.timeout
	p.id = broker.Identity{TransactionalID: p.txnID, ProducerID: e.pid, Epoch: e.epoch}
	p.inited = true
	return p.id, nil
}

// entryLocked resolves the coordinator entry for the producer and rejects
// stale epochs. An open transaction past its timeout is aborted here and the
// epoch bumped, the way a coordinator expires it.
func (p *producer) entryLocked(op Op) (*txnEntry, error) {
	c := p.c
	if p.closed {
		return nil, broker.ErrClosed
	}
	if err := c.enterLocked(op); err != nil {
		return nil, err
	}
	if !p.inited {
		return nil, fmt.Errorf("%w: transactions not initialized", broker.ErrInvalidTxnState)
	}
	e := c.txns[p.txnID]
	if e.pid != p.id.ProducerID || e.epoch != p.id.Epoch {
		return nil, fmt.Errorf("%w: epoch %d superseded by %d", broker.ErrFenced, p.id.Epoch, e.epoch)
	}
	if e.ongoing && e.timeout > 0 && c.now().Sub(e.began) > e.timeout {
		e.pending = nil
		e.ongoing = false
		e.epoch++
		return nil, fmt.Errorf("%w: transaction timed out after %s", broker.ErrFenced, e.timeout)
	}
	return e, nil
}

func (p *producer) BeginTxn(_ context.Context) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	e, err := p.entryLocked(OpBegin)
	if err != nil {
		return err
	}
	if e.ongoing {
		return fmt.Errorf("%w: transaction already open", broker.ErrInvalidTxnState)
	}
	e.ongoing = true
	e.began = p.c.now()
	e.pending = nil
	return nil
}

func (p *producer) Send(_ context.Context, rec broker.Record) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := p.entryLocked(OpSend)
	if err != nil {
		return err
	}
	if !e.ongoing {
		return fmt.Errorf("%w: send outside a transaction", broker.ErrInvalidTxnState)
	}
	if c.denyTopics[rec.Topic] {
		return fmt.Errorf("%w: topic %s", broker.ErrAuthorization, rec.Topic)
	}
	t, ok := c.topics[rec.Topic]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrUnknownTopic, rec.Topic)
	}
	if rec.Partition < 0 || int(rec.Partition) >= len(t.parts) {
		return fmt.Errorf("%w: %s/%d", broker.ErrUnknownTopic, rec.Topic, rec.Partition)
	}

	key := seqKey{pid: e.pid, epoch: e.epoch, topic: rec.Topic, partition: rec.Partition}
	var expected int32
	if last, ok := c.seqs[key]; ok {
		expected = last + 1
	}
	if rec.Sequence != expected {
		return fmt.Errorf("%w: %s/%d expected %d, got %d",
			broker.ErrOutOfOrderSequence, rec.Topic, rec.Partition, expected, rec.Sequence)
	}
	c.seqs[key] = rec.Sequence
	e.pending = append(e.pending, rec)
	return nil
}

func (p *producer) CommitTxn(_ context.Context) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := p.entryLocked(OpCommit)
	if err != nil {
		return err
	}
	if !e.ongoing {
		return fmt.Errorf("%w: no open transaction", broker.ErrInvalidTxnState)
	}
	for _, rec := range e.pending {
		t := c.topics[rec.Topic]
		t.parts[rec.Partition] = append(t.parts[rec.Partition], rec)
	}
	e.pending = nil
	e.ongoing = false
	return nil
}

func (p *producer) AbortTxn(_ context.Context) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	e, err := p.entryLocked(OpAbort)
	if err != nil {
		return err
	}
	if !e.ongoing {
		return fmt.Errorf("%w: no open transaction", broker.ErrInvalidTxnState)
	}
	e.pending = nil
	e.ongoing = false
	return nil
}

// Close releases the connection. An open transaction is left to the
// coordinator; its records stay invisible.
func (p *producer) Close() error {
	p.c.mu.Lock()
	if p.closed {
		p.c.mu.Unlock()
		return nil
	}
	p.closed = true
	p.c.mu.Unlock()
	p.c.release()
	return nil
}
