// Package cmd holds the bootstrap shared by the settlement commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/settlement/internal/platform/config"
	"github.com/louisbranch/settlement/internal/platform/otel"
	"github.com/louisbranch/settlement/internal/platform/timeouts"
)

// Service identifiers used as telemetry service names.
const (
	ServiceSettlement = "settlement"
	ServiceWorker     = "worker"
)

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs the tracer provider for service, runs run and
// flushes telemetry within timeouts.Shutdown once run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry for %s: %w", service, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
