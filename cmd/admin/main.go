// Package main runs finance administration commands against the settlement
// service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	admincmd "github.com/louisbranch/settlement/internal/cmd/admin"
	"github.com/louisbranch/settlement/internal/platform/config"
)

func main() {
	cfg, err := admincmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf(config.ExitUsage, "parse flags: %v", err)
	}
	log.SetPrefix("[SETTLEMENT-ADMIN] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := admincmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}
