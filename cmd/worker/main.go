// Package main starts the settlement outbox relay.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	workercmd "github.com/louisbranch/settlement/internal/cmd/worker"
	"github.com/louisbranch/settlement/internal/platform/config"
)

func main() {
	cfg, err := workercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf(config.ExitUsage, "parse flags: %v", err)
	}
	log.SetPrefix("[SETTLEMENT-WORKER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := workercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
