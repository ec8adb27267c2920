package publish

import (
	"math/rand/v2"
	"strconv"

	"txpub/broker"
)

// Generate builds n records keyed by their index with a random digit as the
// value. Partitions are left to the sequencer.
func Generate(topic string, n int, r *rand.Rand) []broker.Record {
	intN := rand.IntN
	if r != nil {
		intN = r.IntN
	}
	recs := make([]broker.Record, n)
	for i := range recs {
		v := intN(10)
		recs[i] = broker.Record{
			Topic:     topic,
			Partition: broker.AnyPartition,
			Key:       strconv.Itoa(i),
			Value:     strconv.Itoa(v),
		}
	}
	return recs
}
