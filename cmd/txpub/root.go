package main

import (
	"os"

	"github.com/spf13/cobra"

	"txpub/internal/app"
	"txpub/internal/config"
)

func newRootCmd() *cobra.Command {
	var (
		opts              app.Options
		retries           int
		partitions        int32
		replicationFactor int16
	)

	cmd := &cobra.Command{
		Use:   "txpub",
		Short: "Publish a batch of records inside one Kafka transaction",
		Long: `txpub provisions a topic and publishes a small batch of records inside a
single atomic transaction, then commits it.

Examples:
  # Confluent Cloud style client config
  txpub --config cluster.config

  # Pause for Enter after every record
  txpub --config cluster.config --interactive

  # Run against the in-process broker double
  txpub --config local.properties --driver memory

  # Everything from a run plan
  txpub --plan plan.yml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if f.Changed("retries") {
				opts.Retries = &retries
			}
			opts.Partitions = partitions
			opts.ReplicationFactor = replicationFactor
			opts.Version = version
			opts.Stdin = os.Stdin
			opts.Stdout = cmd.OutOrStdout()
			_, err := app.Run(cmd.Context(), opts)
			return err
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.Error{Err: err}
	})

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "client config file (key=value or YAML)")
	f.StringVarP(&opts.PlanPath, "plan", "p", "", "run plan YAML")
	f.StringVar(&opts.Driver, "driver", "", "broker driver: sarama, memory (default sarama)")
	f.StringVarP(&opts.Topic, "topic", "t", "", "topic name (default transaction-topic)")
	f.Int32Var(&partitions, "partitions", 0, "partition count (default 1)")
	f.Int16Var(&replicationFactor, "replication-factor", 0, "replication factor (default 3)")
	f.IntVarP(&opts.Records, "records", "n", 0, "records per transaction (default 10)")
	f.IntVar(&retries, "retries", 0, "retries after a recoverable failure (default 1)")
	f.StringVar(&opts.TransactionalID, "transactional-id", "", "transactional.id override")
	f.BoolVar(&opts.FreshIdentity, "fresh-identity", false, "suffix the transactional.id with a random uuid")
	f.BoolVarP(&opts.Interactive, "interactive", "i", false, "wait for Enter after every record")
	f.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newHealthCmd())
	cmd.Version = version
	return cmd
}
