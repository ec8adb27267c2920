// Package app wires configuration, the broker driver, telemetry and the
// publish orchestrator into one run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"txpub/broker"
	"txpub/internal/config"
	"txpub/internal/logging"
	"txpub/internal/plan"
	"txpub/internal/publish"
	"txpub/internal/telemetry"
	"txpub/internal/tracing"
	"txpub/internal/transport"
)

// Run loads the plan and client config, then publishes once. Configuration
// problems are reported as *config.Error before any broker is contacted.
func Run(ctx context.Context, opts Options) (publish.Result, error) {
	pf, err := config.LoadPlan(opts.PlanPath)
	if err != nil {
		return publish.Result{}, err
	}
	opts.apply(&pf)
	if err := config.ValidatePlan(pf); err != nil {
		return publish.Result{}, err
	}
	if pf.Log.Level != "" || pf.Log.JSON {
		logging.Configure(logging.Options{Level: pf.Log.Level, JSON: pf.Log.JSON})
	}

	settings, err := clientSettings(pf, opts)
	if err != nil {
		return publish.Result{}, err
	}
	driver, err := broker.NewDriver(pf.Client.Driver, settings)
	if err != nil {
		return publish.Result{}, &config.Error{Key: "client.driver", Err: err}
	}
	pacer, err := publish.NewPacer(pf.Pacing, opts.Stdin)
	if err != nil {
		return publish.Result{}, &config.Error{Key: "pacing.mode", Err: err}
	}
	if c, ok := pacer.(io.Closer); ok {
		defer c.Close()
	}

	runID := uuid.New()
	log := logging.L().With("run_id", runID.String(), "transactional_id", settings.TransactionalID)
	log.Info("starting publish run",
		"driver", pf.Client.Driver,
		"brokers", settings.Brokers,
		"topic", pf.Topic.Name,
		"records", pf.Records.Count,
		"retries", pf.Retries(),
	)

	metrics := telemetry.NewRegistry()
	var tracer *tracing.Tracer
	if ep := pf.Telemetry.TracingEndpoint; ep != "" {
		t, cleanup, err := tracing.NewTracer(tracing.Config{
			ServiceVersion: opts.Version,
			Endpoint:       ep,
			SampleRate:     pf.Telemetry.TracingSampleRate,
		})
		if err != nil {
			return publish.Result{}, err
		}
		defer func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cleanup(cctx); err != nil {
				log.Warn("tracer shutdown", "err", err)
			}
		}()
		tracer = t
	}

	// bind before any goroutine starts so a failure leaves nothing running
	var hs *transport.Server
	if port := pf.Telemetry.GRPCPort; port > 0 {
		hs, err = transport.StartServer(port)
		if err != nil {
			return publish.Result{}, fmt.Errorf("grpc health server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServers := context.WithCancel(gctx)
	defer stopServers()

	var ms *telemetry.Server
	if port := pf.Telemetry.MetricsPort; port > 0 {
		ms = telemetry.NewServer(port, metrics)
		g.Go(func() error { return ms.Start(srvCtx) })
	}
	if hs != nil {
		g.Go(hs.Serve)
		g.Go(func() error {
			<-srvCtx.Done()
			hs.Stop()
			return nil
		})
	}

	orch := publish.New(driver, settings.TransactionalID, publish.Config{
		Topic: broker.TopicSpec{
			Name:              pf.Topic.Name,
			Partitions:        pf.Topic.Partitions,
			ReplicationFactor: pf.Topic.ReplicationFactor,
		},
		Records: pf.Records.Count,
		Retries: pf.Retries(),
		Pacer:   pacer,
		Console: publish.NewConsole(opts.Stdout),
		Metrics: metrics,
		Tracer:  tracer,
		OnInitialized: func(id broker.Identity) {
			log.Info("session initialized", "producer_id", id.ProducerID, "epoch", id.Epoch)
			setReady(ms, hs, true)
		},
	})

	var (
		res    publish.Result
		runErr error
	)
	g.Go(func() error {
		defer stopServers()
		res, runErr = orch.Run(gctx)
		if res.State.Terminal() {
			setReady(ms, hs, false)
		}
		return nil
	})

	if err := g.Wait(); err != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		return res, err
	}
	if runErr != nil {
		log.Error("publish run failed", "state", res.State.String(), "attempts", res.Attempts, "err", runErr)
		return res, runErr
	}
	log.Info("publish run finished", "state", res.State.String(), "records", res.Records, "attempts", res.Attempts)
	return res, nil
}

// clientSettings loads the client properties and merges the per-run
// overrides: plan overrides first, then the command line.
func clientSettings(pf plan.File, opts Options) (broker.Settings, error) {
	props, err := config.LoadClient(pf.Client.Config)
	if err != nil {
		return broker.Settings{}, err
	}
	over := make(map[string]string, len(pf.Overrides)+1)
	for k, v := range pf.Overrides {
		over[k] = v
	}
	if opts.TransactionalID != "" {
		over[config.KeyTransactionalID] = opts.TransactionalID
	}
	props = props.Merge(over)
	if opts.FreshIdentity {
		props = props.Merge(map[string]string{
			config.KeyTransactionalID: props.Get(config.KeyTransactionalID) + "-" + uuid.NewString(),
		})
	}
	return props.Settings()
}

func setReady(ms *telemetry.Server, hs *transport.Server, ok bool) {
	if ms != nil {
		ms.SetReady(ok)
	}
	if hs != nil {
		hs.SetServing(ok)
	}
}
