package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"txpub/internal/transport"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running txpub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := c.Check(ctx, service)
			if err != nil {
				return fmt.Errorf("health check %s: %w", addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", addr, st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "health server address")
	cmd.Flags().StringVar(&service, "service", transport.Service, `service to check ("" for the process)`)
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
