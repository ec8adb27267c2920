package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"txpub/broker"
	_ "txpub/broker/kafka" // registers "sarama"
	"txpub/broker/memory"
	"txpub/internal/app"
	"txpub/internal/logging"
)

var version = "dev"

func main() {
	logging.InitFromEnv()

	// offline demo: a broker double that lives for the process
	broker.Register("memory", memory.NewCluster().Factory())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(app.ExitCode(err))
}
