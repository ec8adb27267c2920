// Package memory is an in-process broker double. It keeps the coordinator
// state a transactional producer relies on (producer ids, epochs, per
// partition sequences, pending records) so the client can be exercised
// without a Kafka cluster. Nothing is persisted and nothing is replicated.
package memory

import (
	"sync"
	"time"

	"txpub/broker"
)

type Op string

const (
	OpCreateTopic   Op = "create_topic"
	OpDescribeTopic Op = "describe_topic"
	OpInit          Op = "init_transactions"
	OpBegin         Op = "begin"
	OpSend          Op = "send"
	OpCommit        Op = "commit"
	OpAbort         Op = "abort"
)

// Fault makes the cluster fail an operation. The first After matching calls
// pass through, then the next Times calls (default 1) return Err.
type Fault struct {
	Op    Op
	After int
	Err   error
	Times int
}

type faultState struct {
	Fault
	seen  int
	fired int
}

type topicLog struct {
	spec  broker.TopicSpec
	parts [][]broker.Record
}

type txnEntry struct {
	pid     int64
	epoch   int16
	ongoing bool
	began   time.Time
	timeout time.Duration
	pending []broker.Record
}

type seqKey struct {
	pid       int64
	epoch     int16
	topic     string
	partition int32
}

type Option func(*Cluster)

// WithBrokers sets how many brokers the cluster pretends to have; it bounds
// the replication factor a topic may ask for.
func WithBrokers(n int) Option {
	return func(c *Cluster) { c.brokers = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cluster) { c.now = now }
}

type Cluster struct {
	mu sync.Mutex

	brokers int
	now     func() time.Time

	topics  map[string]*topicLog
	txns    map[string]*txnEntry
	seqs    map[seqKey]int32
	nextPID int64

	denyTopics map[string]bool
	denyTxnIDs map[string]bool

	faults []*faultState
	calls  map[Op]int
	open   int
	closes int
}

func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		brokers:    3,
		now:        time.Now,
		topics:     make(map[string]*topicLog),
		txns:       make(map[string]*txnEntry),
		seqs:       make(map[seqKey]int32),
		denyTopics: make(map[string]bool),
		denyTxnIDs: make(map[string]bool),
		calls:      make(map[Op]int),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Factory lets a Cluster be registered with broker.Register.
func (c *Cluster) Factory() broker.Factory {
	return func(s broker.Settings) (broker.Driver, error) {
		return c.Driver(s), nil
	}
}

func (c *Cluster) Driver(s broker.Settings) broker.Driver {
	return &driver{c: c, settings: s}
}

// Inject registers a fault; faults are matched in registration order.
func (c *Cluster) Inject(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	c.mu.Lock()
	c.faults = append(c.faults, &faultState{Fault: f})
	c.mu.Unlock()
}

func (c *Cluster) DenyTopic(name string) {
	c.mu.Lock()
	c.denyTopics[name] = true
	c.mu.Unlock()
}

func (c *Cluster) DenyTransactionalID(id string) {
	c.mu.Lock()
	c.denyTxnIDs[id] = true
	c.mu.Unlock()
}

// Read returns the committed records of a topic, partition by partition, in
// log order. Pending and aborted records are never returned.
func (c *Cluster) Read(topic string) []broker.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[topic]
	if !ok {
		return nil
	}
	var out []broker.Record
	for _, p := range t.parts {
		out = append(out, p...)
	}
	return out
}

// Pending is the number of records held in the open transaction of id.
func (c *Cluster) Pending(transactionalID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.txns[transactionalID]; ok {
		return len(e.pending)
	}
	return 0
}

func (c *Cluster) Epoch(transactionalID string) (int16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.txns[transactionalID]
	if !ok {
		return 0, false
	}
	return e.epoch, true
}

func (c *Cluster) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls counts every broker operation, connection opens included.
func (c *Cluster) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n + c.open + c.closes
}

func (c *Cluster) OpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Cluster) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// must be called with c.mu held
func (c *Cluster) enterLocked(op Op) error {
	c.calls[op]++
	for _, f := range c.faults {
		if f.Op != op {
			continue
		}
		f.seen++
		if f.seen > f.After && f.fired < f.Times {
			f.fired++
			return f.Err
		}
	}
	return nil
}

func (c *Cluster) acquire() {
	c.mu.Lock()
	c.open++
	c.mu.Unlock()
}

func (c *Cluster) release() {
	c.mu.Lock()
	c.open--
	c.closes++
	c.mu.Unlock()
}
