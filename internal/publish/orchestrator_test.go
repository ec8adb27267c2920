package publish

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txpub/broker"
	"txpub/broker/memory"
	"txpub/internal/admin"
	"txpub/internal/telemetry"
	"txpub/internal/txn"
)

const topic = "transaction-topic"

type pacerFunc func(ctx context.Context, sent int) error

func (f pacerFunc) Wait(ctx context.Context, sent int) error { return f(ctx, sent) }

type harness struct {
	cluster *memory.Cluster
	out     *bytes.Buffer
	metrics *telemetry.Registry
}

func newHarness() *harness {
	return &harness{
		cluster: memory.NewCluster(),
		out:     &bytes.Buffer{},
		metrics: telemetry.NewRegistry(),
	}
}

func (h *harness) orchestrator(mod func(*Config)) *Orchestrator {
	cfg := Config{
		Topic:   broker.TopicSpec{Name: topic, Partitions: 1, ReplicationFactor: 3},
		Records: 10,
		Retries: 1,
		Console: NewConsole(h.out),
		Metrics: h.metrics,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	}
	if mod != nil {
		mod(&cfg)
	}
	d := h.cluster.Driver(broker.Settings{TransactionalID: "t01"})
	return New(d, "t01", cfg)
}

func TestRun_CommitsAllRecords(t *testing.T) {
	h := newHarness()
	var initialized broker.Identity
	res, err := h.orchestrator(func(c *Config) {
		c.OnInitialized = func(id broker.Identity) { initialized = id }
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, txn.Committed, res.State)
	assert.Equal(t, 10, res.Records)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "t01", res.Identity.TransactionalID)
	assert.Equal(t, res.Identity, initialized)

	got := h.cluster.Read(topic)
	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, fmt.Sprint(i), r.Key)
		assert.Equal(t, int32(i), r.Sequence)
		assert.Len(t, r.Value, 1)
	}
	assert.Equal(t, 0, h.cluster.OpenConnections())

	out := h.out.String()
	assert.Contains(t, out, "*** transactional.id t01 ***")
	assert.Contains(t, out, "*** Begin Transaction ***")
	assert.Equal(t, 10, strings.Count(out, "Sent "))
	assert.Contains(t, out, "Sent 0:"+got[0].Value)
	assert.Contains(t, out, "*** Commit Transaction ***")
}

func TestRun_RetriesRecoverableFailure(t *testing.T) {
	h := newHarness()
	h.cluster.Inject(memory.Fault{Op: memory.OpSend, After: 3, Err: broker.ErrTransient})

	res, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, txn.Committed, res.State)

	got := h.cluster.Read(topic)
	require.Len(t, got, 10, "the aborted attempt leaves nothing behind")
	for i, r := range got {
		assert.Equal(t, fmt.Sprint(i), r.Key)
	}

	out := h.out.String()
	assert.Contains(t, out, "*** Abort Transaction ***")
	assert.Contains(t, out, "RETRYING (attempt 2 of 2)")

	expected := `
# HELP txpub_publish_attempts_total Publish attempts, retries included
# TYPE txpub_publish_attempts_total counter
txpub_publish_attempts_total 2
`
	require.NoError(t, testutil.GatherAndCompare(h.metrics.Gatherer(), strings.NewReader(expected), "txpub_publish_attempts_total"))
}

func TestRun_RetriesFailedBeginWithoutAbort(t *testing.T) {
	h := newHarness()
	h.cluster.Inject(memory.Fault{Op: memory.OpBegin, Err: broker.ErrTransient})

	res, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, txn.Committed, res.State)
	assert.Len(t, h.cluster.Read(topic), 10)

	assert.Equal(t, 2, h.cluster.Calls(memory.OpBegin))
	assert.Equal(t, 0, h.cluster.Calls(memory.OpAbort))
	out := h.out.String()
	assert.NotContains(t, out, "*** Abort Transaction ***")
	assert.Contains(t, out, "RETRYING (attempt 2 of 2)")
}

func TestRun_RetriesExhausted(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			h := newHarness()
			h.cluster.Inject(memory.Fault{Op: memory.OpCommit, Err: broker.ErrTransient, Times: retries + 1})

			res, err := h.orchestrator(func(c *Config) { c.Retries = retries }).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRetriesExhausted)
			assert.ErrorIs(t, err, txn.ErrFatal)
			assert.Equal(t, retries+1, res.Attempts)
			assert.Equal(t, txn.Fatal, res.State)
			assert.True(t, res.State.Terminal())
			assert.Empty(t, h.cluster.Read(topic))
			assert.Equal(t, retries+1, h.cluster.Calls(memory.OpAbort))
			assert.Contains(t, h.out.String(), "RETRIES EXHAUSTED")
			assert.Equal(t, 0, h.cluster.OpenConnections())
		})
	}
}

func TestRun_AuthorizationOnThirdSendIsFatal(t *testing.T) {
	h := newHarness()
	h.cluster.Inject(memory.Fault{Op: memory.OpSend, After: 2, Err: fmt.Errorf("%w: topic %s", broker.ErrAuthorization, topic)})

	res, err := h.orchestrator(nil).Run(context.Background())
	assert.ErrorIs(t, err, txn.ErrFatal)
	assert.ErrorIs(t, err, broker.ErrAuthorization)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, txn.Fatal, res.State)
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, 3, h.cluster.Calls(memory.OpSend), "the remaining seven are never sent")
	assert.Equal(t, 0, h.cluster.Calls(memory.OpAbort))
	assert.Empty(t, h.cluster.Read(topic))
	assert.Equal(t, 0, h.cluster.OpenConnections())

	out := h.out.String()
	assert.Equal(t, 2, strings.Count(out, "Sent "))
	assert.Contains(t, out, "FATAL:")
}

func TestRun_FencedByRivalSession(t *testing.T) {
	h := newHarness()
	rivalInit := func(ctx context.Context, sent int) error {
		if sent != 4 {
			return nil
		}
		p, err := h.cluster.Driver(broker.Settings{TransactionalID: "t01"}).NewProducer(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		_, err = p.InitTransactions(ctx)
		return err
	}

	res, err := h.orchestrator(func(c *Config) { c.Pacer = pacerFunc(rivalInit) }).Run(context.Background())
	assert.ErrorIs(t, err, txn.ErrFenced)
	assert.Equal(t, txn.Fenced, res.State)
	assert.Empty(t, h.cluster.Read(topic))
	assert.Contains(t, h.out.String(), "PRODUCER FENCED")
	assert.Equal(t, 0, h.cluster.OpenConnections())
}

func TestRun_CancelAbortsOpenTransaction(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopAfter5 := func(_ context.Context, sent int) error {
		if sent == 5 {
			cancel()
		}
		return nil
	}

	res, err := h.orchestrator(func(c *Config) { c.Pacer = pacerFunc(stopAfter5) }).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, txn.Aborted, res.State)
	assert.Equal(t, 1, h.cluster.Calls(memory.OpAbort))
	assert.Equal(t, 0, h.cluster.Pending("t01"))
	assert.Empty(t, h.cluster.Read(topic))
	assert.Equal(t, 0, h.cluster.OpenConnections())
}

func TestRun_AdminFailureStopsBeforeSession(t *testing.T) {
	h := newHarness()
	_, err := h.orchestrator(func(c *Config) { c.Topic.ReplicationFactor = 5 }).Run(context.Background())

	var ae *admin.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 0, h.cluster.Calls(memory.OpInit))
	assert.Equal(t, 0, h.cluster.OpenConnections())
}

func TestRun_InitDeniedIsFatal(t *testing.T) {
	h := newHarness()
	h.cluster.DenyTransactionalID("t01")

	res, err := h.orchestrator(nil).Run(context.Background())
	assert.ErrorIs(t, err, txn.ErrFatal)
	assert.Equal(t, txn.Fatal, res.State)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, 0, h.cluster.Calls(memory.OpBegin))
}

func TestRun_SpreadsKeysOverPartitions(t *testing.T) {
	h := newHarness()
	res, err := h.orchestrator(func(c *Config) {
		c.Topic.Partitions = 3
		c.Records = 30
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, res.Records)

	got := h.cluster.Read(topic)
	require.Len(t, got, 30)
	next := map[int32]int32{}
	for _, r := range got {
		assert.Equal(t, next[r.Partition], r.Sequence, "partition %d", r.Partition)
		next[r.Partition]++
	}
}
