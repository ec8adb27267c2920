package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"txpub/broker"
)

const defaultClientID = "txpub"

// newSaramaConfig builds the producer/admin configuration for a
// transactional, idempotent producer. It runs sarama's own validation so a
// bad combination surfaces before any connection is attempted.
func newSaramaConfig(s broker.Settings) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	ver := sarama.V2_8_0_0
	if s.Version != "" {
		v, err := sarama.ParseKafkaVersion(s.Version)
		if err != nil {
			return nil, err
		}
		ver = v
	}
	if !ver.IsAtLeast(sarama.V0_11_0_0) {
		return nil, fmt.Errorf("kafka: version %s does not support transactions", ver)
	}
	sc.Version = ver

	sc.ClientID = defaultClientID
	if s.ClientID != "" {
		sc.ClientID = s.ClientID
	}

	switch strings.ToLower(strings.TrimSpace(s.RequiredAcks)) {
	case "", "all", "-1":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		return nil, fmt.Errorf("kafka: acks=%s not allowed for a transactional producer", s.RequiredAcks)
	}

	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	if sc.Producer.Retry.Max < 1 {
		sc.Producer.Retry.Max = 1
	}
	sc.Producer.Partitioner = sarama.NewManualPartitioner
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true

	if s.TransactionalID != "" {
		sc.Producer.Transaction.ID = s.TransactionalID
	}
	if s.TransactionTimeout > 0 {
		sc.Producer.Transaction.Timeout = s.TransactionTimeout
	}

	if s.TLS {
		sc.Net.TLS.Enable = true
	}
	if s.SASL != nil {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLMechanism(strings.ToUpper(s.SASL.Mechanism))
		if sc.Net.SASL.Mechanism == "" {
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
		sc.Net.SASL.User, sc.Net.SASL.Password = s.SASL.User, s.SASL.Password
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
