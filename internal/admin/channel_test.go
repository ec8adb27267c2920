package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txpub/broker"
	"txpub/broker/memory"
	"txpub/internal/telemetry"
)

var spec = broker.TopicSpec{Name: "transaction-topic", Partitions: 1, ReplicationFactor: 3}

func TestEnsureTopic_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCluster()
	reg := telemetry.NewRegistry()
	ch := NewChannel(c.Driver(broker.Settings{}), reg)

	res, err := ch.EnsureTopic(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, Created, res)

	res, err = ch.EnsureTopic(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, Exists, res)

	assert.Equal(t, 0, c.OpenConnections())
	assert.Equal(t, 2, c.Closes())

	expected := `
# HELP txpub_topic_ensure_total Topic provisioning results
# TYPE txpub_topic_ensure_total counter
txpub_topic_ensure_total{result="created"} 1
txpub_topic_ensure_total{result="exists"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "txpub_topic_ensure_total"))
}

func TestEnsureTopic_MismatchIsAdminError(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCluster()
	ch := NewChannel(c.Driver(broker.Settings{}), nil)

	_, err := ch.EnsureTopic(ctx, spec)
	require.NoError(t, err)

	other := spec
	other.ReplicationFactor = 2
	_, err = ch.EnsureTopic(ctx, other)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, spec.Name, ae.Topic)
	assert.ErrorIs(t, err, ErrTopicMismatch)
	assert.Equal(t, 0, c.OpenConnections())
}

func TestEnsureTopic_Failures(t *testing.T) {
	cases := map[string]struct {
		spec  broker.TopicSpec
		setup func(*memory.Cluster)
		want  error
	}{
		"replication factor above broker count": {
			spec: broker.TopicSpec{Name: "t", Partitions: 1, ReplicationFactor: 5},
			want: broker.ErrInvalidReplicationFactor,
		},
		"zero partitions": {
			spec: broker.TopicSpec{Name: "t", Partitions: 0, ReplicationFactor: 1},
			want: broker.ErrInvalidPartitions,
		},
		"authorization": {
			spec: spec,
			setup: func(c *memory.Cluster) {
				c.Inject(memory.Fault{Op: memory.OpCreateTopic, Err: fmt.Errorf("%w: cluster", broker.ErrAuthorization)})
			},
			want: broker.ErrAuthorization,
		},
		"describe after exists fails": {
			spec: spec,
			setup: func(c *memory.Cluster) {
				a, _ := c.Driver(broker.Settings{}).NewAdmin(context.Background())
				_ = a.CreateTopic(context.Background(), spec)
				_ = a.Close()
				c.Inject(memory.Fault{Op: memory.OpDescribeTopic, Err: broker.ErrTransient})
			},
			want: broker.ErrTransient,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := memory.NewCluster()
			if tc.setup != nil {
				tc.setup(c)
			}
			_, err := NewChannel(c.Driver(broker.Settings{}), nil).EnsureTopic(context.Background(), tc.spec)
			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, c.OpenConnections())
		})
	}
}

type failingDriver struct{ broker.Driver }

func (failingDriver) NewAdmin(context.Context) (broker.Admin, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestEnsureTopic_ConnectFailure(t *testing.T) {
	_, err := NewChannel(failingDriver{}, nil).EnsureTopic(context.Background(), spec)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "connect")
}
