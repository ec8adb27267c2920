// Package broker defines the capability a transactional publish client needs
// from a Kafka-protocol broker. Drivers (sarama, memory) implement it and map
// their native failures onto the sentinel errors in errors.go.
package broker

import (
	"context"
	"fmt"
	"time"
)

// AnyPartition marks a record whose partition is chosen by the sequencer.
const AnyPartition int32 = -1

// Record is a single key/value pair bound for a topic partition. Sequence is
// assigned by the session under the producer's current epoch.
type Record struct {
	Topic     string
	Partition int32
	Key       string
	Value     string
	Sequence  int32
}

type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

func (t TopicSpec) String() string {
	return fmt.Sprintf("%s(partitions=%d, rf=%d)", t.Name, t.Partitions, t.ReplicationFactor)
}

// Identity is what the coordinator hands back on InitTransactions. Drivers
// that cannot observe the producer id or epoch report -1.
type Identity struct {
	TransactionalID string
	ProducerID      int64
	Epoch           int16
}

// Admin is the control-plane side of the broker.
type Admin interface {
	CreateTopic(ctx context.Context, spec TopicSpec) error
	DescribeTopic(ctx context.Context, name string) (TopicSpec, error)
	Close() error
}

// Producer is one transactional producer connection. Send must not wait for
// the broker acknowledgment; CommitTxn does.
type Producer interface {
	InitTransactions(ctx context.Context) (Identity, error)
	BeginTxn(ctx context.Context) error
	Send(ctx context.Context, rec Record) error
	CommitTxn(ctx context.Context) error
	AbortTxn(ctx context.Context) error
	Close() error
}

// Driver opens admin and producer connections for one set of Settings.
type Driver interface {
	NewAdmin(ctx context.Context) (Admin, error)
	NewProducer(ctx context.Context) (Producer, error)
}

type SASL struct {
	Mechanism string
	User      string
	Password  string
}

// Settings is the typed view of the client properties a driver consumes.
type Settings struct {
	Brokers            []string
	ClientID           string
	Version            string
	TLS                bool
	SASL               *SASL
	RequiredAcks       string
	TransactionalID    string
	TransactionTimeout time.Duration
}
