// Package settlement parses settlement service flags and launches the service.
package settlement

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/settlement/internal/platform/cmd"
	"github.com/louisbranch/settlement/internal/platform/discovery"
	server "github.com/louisbranch/settlement/internal/services/settlement/app"
	"github.com/shopspring/decimal"
)

// Config holds settlement command configuration.
type Config struct {
	HTTPPort                 int             `env:"SETTLEMENT_HTTP_PORT" envDefault:"8080"`
	GRPCPort                 int             `env:"SETTLEMENT_GRPC_PORT" envDefault:"8082"`
	DBPath                   string          `env:"SETTLEMENT_DB_PATH" envDefault:"data/settlement.db"`
	WebhookSecret            string          `env:"SETTLEMENT_WEBHOOK_SECRET"`
	JWTSecret                string          `env:"SETTLEMENT_JWT_SECRET"`
	JWTIssuer                string          `env:"SETTLEMENT_JWT_ISSUER"`
	JWTAudience              string          `env:"SETTLEMENT_JWT_AUDIENCE"`
	Currency                 string          `env:"SETTLEMENT_CURRENCY" envDefault:"TRY"`
	DefaultCommissionRate    decimal.Decimal `env:"SETTLEMENT_DEFAULT_COMMISSION_RATE" envDefault:"0.10"`
	CheckoutBaseURL          string          `env:"SETTLEMENT_CHECKOUT_BASE_URL"`
	IdempotencyTTL           time.Duration   `env:"SETTLEMENT_IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyPurgeInterval time.Duration   `env:"SETTLEMENT_IDEMPOTENCY_PURGE_INTERVAL" envDefault:"1h"`
	AbusePolicyPath          string          `env:"SETTLEMENT_ABUSE_POLICY_PATH"`
	CounterStore             string          `env:"SETTLEMENT_ABUSE_COUNTER_STORE" envDefault:"memory"`
	CounterPath              string          `env:"SETTLEMENT_ABUSE_COUNTER_PATH" envDefault:"data/abuse-counters.db"`
	TrustForwarded           bool            `env:"SETTLEMENT_TRUST_FORWARDED"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The settlement HTTP API port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The settlement admin gRPC port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The settlement SQLite database path")
	fs.StringVar(&cfg.Currency, "currency", cfg.Currency, "The ISO 4217 currency orders are placed in")
	fs.Func("default-commission-rate", "Commission rate used before any rate is set (default "+cfg.DefaultCommissionRate.String()+")", func(value string) error {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return err
		}
		cfg.DefaultCommissionRate = rate
		return nil
	})
	fs.DurationVar(&cfg.IdempotencyTTL, "idempotency-ttl", cfg.IdempotencyTTL, "How long idempotency keys are remembered")
	fs.StringVar(&cfg.AbusePolicyPath, "abuse-policy", cfg.AbusePolicyPath, "YAML abuse policy file; built-in limits when empty")
	fs.StringVar(&cfg.CounterStore, "abuse-counter-store", cfg.CounterStore, "Abuse counter store: memory or bolt")
	fs.StringVar(&cfg.CounterPath, "abuse-counter-path", cfg.CounterPath, "BoltDB path for the bolt counter store")
	fs.BoolVar(&cfg.TrustForwarded, "trust-forwarded", cfg.TrustForwarded, "Take the client IP from X-Forwarded-For")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the settlement HTTP and admin gRPC APIs.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSettlement, func(context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:                 discovery.ListenAddr(cfg.HTTPPort),
			GRPCAddr:                 discovery.ListenAddr(cfg.GRPCPort),
			DBPath:                   cfg.DBPath,
			WebhookSecret:            cfg.WebhookSecret,
			JWTSecret:                cfg.JWTSecret,
			JWTIssuer:                cfg.JWTIssuer,
			JWTAudience:              cfg.JWTAudience,
			Currency:                 cfg.Currency,
			DefaultCommissionRate:    decimal.NewNullDecimal(cfg.DefaultCommissionRate),
			CheckoutBaseURL:          cfg.CheckoutBaseURL,
			IdempotencyTTL:           cfg.IdempotencyTTL,
			IdempotencyPurgeInterval: cfg.IdempotencyPurgeInterval,
			AbusePolicyPath:          cfg.AbusePolicyPath,
			CounterStore:             cfg.CounterStore,
			CounterPath:              cfg.CounterPath,
			TrustForwarded:           cfg.TrustForwarded,
		})
	})
}
