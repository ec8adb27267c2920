package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"txpub/broker"
)

// classify maps a sarama failure onto the broker sentinels. The original
// error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		switch kerr {
		case sarama.ErrProducerFenced, sarama.ErrInvalidProducerEpoch:
			return wrap(broker.ErrFenced, err)
		case sarama.ErrOutOfOrderSequenceNumber:
			return wrap(broker.ErrOutOfOrderSequence, err)
		case sarama.ErrTransactionalIDAuthorizationFailed,
			sarama.ErrTopicAuthorizationFailed,
			sarama.ErrClusterAuthorizationFailed:
			return wrap(broker.ErrAuthorization, err)
		case sarama.ErrTopicAlreadyExists:
			return wrap(broker.ErrTopicExists, err)
		case sarama.ErrInvalidReplicationFactor:
			return wrap(broker.ErrInvalidReplicationFactor, err)
		case sarama.ErrInvalidPartitions:
			return wrap(broker.ErrInvalidPartitions, err)
		case sarama.ErrUnknownTopicOrPartition:
			return wrap(broker.ErrUnknownTopic, err)
		case sarama.ErrInvalidTxnState:
			return wrap(broker.ErrInvalidTxnState, err)
		}
	}
	switch {
	case errors.Is(err, sarama.ErrTransactionNotReady),
		errors.Is(err, sarama.ErrNonTransactedProducer),
		errors.Is(err, sarama.ErrTransitionNotAllowed):
		return wrap(broker.ErrInvalidTxnState, err)
	case errors.Is(err, sarama.ErrClosedClient), errors.Is(err, sarama.ErrShuttingDown):
		return wrap(broker.ErrClosed, err)
	}
	return wrap(broker.ErrTransient, err)
}

// classifyTxn additionally consults the transaction manager: a failure the
// producer has flagged fatal is never reported as transient.
func classifyTxn(err error, status sarama.ProducerTxnStatusFlag) error {
	err = classify(err)
	if err != nil && status&sarama.ProducerTxnFlagFatalError != 0 && errors.Is(err, broker.ErrTransient) {
		return wrap(broker.ErrInvalidTxnState, err)
	}
	return err
}

func wrap(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
