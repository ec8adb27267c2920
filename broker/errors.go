package broker

import "errors"

var (
	ErrTopicExists              = errors.New("broker: topic already exists")
	ErrUnknownTopic             = errors.New("broker: unknown topic")
	ErrInvalidReplicationFactor = errors.New("broker: invalid replication factor")
	ErrInvalidPartitions        = errors.New("broker: invalid partition count")

	// ErrFenced is returned once a newer producer with the same
	// transactional id has registered with the coordinator.
	ErrFenced             = errors.New("broker: producer fenced")
	ErrOutOfOrderSequence = errors.New("broker: out of order sequence number")
	ErrAuthorization      = errors.New("broker: authorization failed")
	ErrInvalidTxnState    = errors.New("broker: invalid transaction state")

	// ErrTransient covers retriable transport and broker failures.
	ErrTransient = errors.New("broker: transient failure")
	ErrClosed    = errors.New("broker: connection closed")
)
