// Package admin provisions the publish topic over the broker control plane.
package admin

import (
	"context"
	"errors"
	"fmt"

	"txpub/broker"
	"txpub/internal/logging"
	"txpub/internal/telemetry"
)

type Result string

const (
	Created Result = "created"
	Exists  Result = "exists"
)

// Error is returned for any provisioning failure that should stop startup.
type Error struct {
	Topic string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("admin: topic %s: %v", e.Topic, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrTopicMismatch reports an existing topic whose layout differs from the
// requested one.
var ErrTopicMismatch = errors.New("existing topic does not match")

type Channel struct {
	driver  broker.Driver
	metrics *telemetry.Registry // optional
}

func NewChannel(d broker.Driver, metrics *telemetry.Registry) *Channel {
	return &Channel{driver: d, metrics: metrics}
}

// EnsureTopic creates spec or accepts an identical existing topic. The admin
// connection is opened and closed inside the call.
func (c *Channel) EnsureTopic(ctx context.Context, spec broker.TopicSpec) (Result, error) {
	res, err := c.ensure(ctx, spec)
	if c.metrics != nil {
		if err != nil {
			c.metrics.RecordTopicEnsure("error")
		} else {
			c.metrics.RecordTopicEnsure(string(res))
		}
	}
	if err != nil {
		logging.L().Error("topic provisioning failed", "topic", spec.Name, "err", err)
		return "", err
	}
	logging.L().Info("topic ready", "topic", spec.String(), "result", string(res))
	return res, nil
}

func (c *Channel) ensure(ctx context.Context, spec broker.TopicSpec) (res Result, err error) {
	a, err := c.driver.NewAdmin(ctx)
	if err != nil {
		return "", &Error{Topic: spec.Name, Err: fmt.Errorf("connect: %w", err)}
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = &Error{Topic: spec.Name, Err: fmt.Errorf("close: %w", cerr)}
		}
	}()

	err = a.CreateTopic(ctx, spec)
	switch {
	case err == nil:
		return Created, nil
	case !errors.Is(err, broker.ErrTopicExists):
		return "", &Error{Topic: spec.Name, Err: err}
	}

	have, err := a.DescribeTopic(ctx, spec.Name)
	if err != nil {
		return "", &Error{Topic: spec.Name, Err: fmt.Errorf("describe: %w", err)}
	}
	if have.Partitions != spec.Partitions || have.ReplicationFactor != spec.ReplicationFactor {
		return "", &Error{Topic: spec.Name, Err: fmt.Errorf("%w: have %s, want %s", ErrTopicMismatch, have, spec)}
	}
	return Exists, nil
}
