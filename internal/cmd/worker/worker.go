// Package worker parses relay command flags and launches the outbox relay.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/settlement/internal/platform/cmd"
	workerserver "github.com/louisbranch/settlement/internal/services/worker/app"
)

// Config holds worker command configuration.
type Config struct {
	Port             int           `env:"SETTLEMENT_WORKER_PORT" envDefault:"8089"`
	SettlementDBPath string        `env:"SETTLEMENT_DB_PATH" envDefault:"data/settlement.db"`
	DBPath           string        `env:"SETTLEMENT_WORKER_DB_PATH" envDefault:"data/worker.db"`
	Consumer         string        `env:"SETTLEMENT_WORKER_CONSUMER" envDefault:"settlement-relay"`
	PollInterval     time.Duration `env:"SETTLEMENT_WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL         time.Duration `env:"SETTLEMENT_WORKER_LEASE_TTL" envDefault:"30s"`
	BatchSize        int           `env:"SETTLEMENT_WORKER_BATCH_SIZE" envDefault:"20"`
	MaxAttempts      int           `env:"SETTLEMENT_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff     time.Duration `env:"SETTLEMENT_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay    time.Duration `env:"SETTLEMENT_WORKER_RETRY_MAX_DELAY" envDefault:"5m"`
	NotifyURL        string        `env:"SETTLEMENT_WORKER_NOTIFY_URL"`
	NotifySecret     string        `env:"SETTLEMENT_WORKER_NOTIFY_SECRET"`
	NotifyTimeout    time.Duration `env:"SETTLEMENT_WORKER_NOTIFY_TIMEOUT" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The relay health gRPC server port")
	fs.StringVar(&cfg.SettlementDBPath, "settlement-db-path", cfg.SettlementDBPath, "The settlement SQLite database holding the outbox")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The relay attempts SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Outbox lease consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Outbox poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Outbox lease duration")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events leased per poll")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum processing attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.StringVar(&cfg.NotifyURL, "notify-url", cfg.NotifyURL, "Webhook receiving party notifications; notifications are logged when empty")
	fs.DurationVar(&cfg.NotifyTimeout, "notify-timeout", cfg.NotifyTimeout, "Notification webhook request timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the relay runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:             cfg.Port,
			SettlementDBPath: cfg.SettlementDBPath,
			DBPath:           cfg.DBPath,
			Consumer:         cfg.Consumer,
			PollInterval:     cfg.PollInterval,
			LeaseTTL:         cfg.LeaseTTL,
			BatchSize:        cfg.BatchSize,
			MaxAttempts:      cfg.MaxAttempts,
			RetryBackoff:     cfg.RetryBackoff,
			RetryMaxDelay:    cfg.RetryMaxDelay,
			NotifyURL:        cfg.NotifyURL,
			NotifySecret:     cfg.NotifySecret,
			NotifyTimeout:    cfg.NotifyTimeout,
		})
	})
}
