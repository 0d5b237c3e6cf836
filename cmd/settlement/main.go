// Package main starts the settlement service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	settlementcmd "github.com/louisbranch/settlement/internal/cmd/settlement"
	"github.com/louisbranch/settlement/internal/platform/config"
)

func main() {
	cfg, err := settlementcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf(config.ExitUsage, "parse flags: %v", err)
	}
	log.SetPrefix("[SETTLEMENT] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := settlementcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
