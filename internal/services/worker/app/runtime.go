package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/platform/discovery"
	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	settlementsqlite "github.com/louisbranch/settlement/internal/services/settlement/storage/sqlite"
	workerdomain "github.com/louisbranch/settlement/internal/services/worker/domain"
	workerstorage "github.com/louisbranch/settlement/internal/services/worker/storage"
	workersqlite "github.com/louisbranch/settlement/internal/services/worker/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health name the relay reports under.
const HealthService = "settlement.relay"

// RuntimeConfig controls relay startup, storage and loop behavior.
type RuntimeConfig struct {
	Port             int
	SettlementDBPath string
	DBPath           string
	Consumer         string
	PollInterval     time.Duration
	LeaseTTL         time.Duration
	BatchSize        int
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	NotifyURL        string
	NotifySecret     string
	NotifyTimeout    time.Duration
}

const (
	defaultWorkerPort   = 8089
	defaultWorkerDB     = "data/worker.db"
	defaultSettlementDB = "data/settlement.db"
)

// Run opens both stores and relays outbox events until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if strings.TrimSpace(cfg.SettlementDBPath) == "" {
		cfg.SettlementDBPath = defaultSettlementDB
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	for _, path := range []string{cfg.DBPath, cfg.SettlementDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create worker storage dir: %w", err)
			}
		}
	}

	workerStore, err := workersqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open worker sqlite store: %w", err)
	}
	defer func() {
		if closeErr := workerStore.Close(); closeErr != nil {
			log.Printf("close worker sqlite store: %v", closeErr)
		}
	}()

	settlementStore, err := settlementsqlite.Open(cfg.SettlementDBPath)
	if err != nil {
		return fmt.Errorf("open settlement sqlite store: %w", err)
	}
	defer func() {
		if closeErr := settlementStore.Close(); closeErr != nil {
			log.Printf("close settlement sqlite store: %v", closeErr)
		}
	}()

	loopConfig := Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		LeaseTTL:      cfg.LeaseTTL,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}.normalized()

	workerLoop := New(
		settlementStore,
		newAttemptStoreRecorder(workerStore, loopConfig.Consumer),
		eventHandlers(workerdomain.NewNotificationHandler(notifier, settlementStore)),
		loopConfig,
		nil,
	)

	listener, err := net.Listen("tcp", discovery.ListenAddr(cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("relay consumer=%s listening at %v", loopConfig.Consumer, listener.Addr())
	return workerLoop.Run(ctx)
}

func buildNotifier(cfg RuntimeConfig) (workerdomain.Notifier, error) {
	if strings.TrimSpace(cfg.NotifyURL) == "" {
		return workerdomain.LogNotifier{}, nil
	}
	if strings.TrimSpace(cfg.NotifySecret) == "" {
		return nil, fmt.Errorf("notification secret is required with a notification url")
	}
	return workerdomain.NewWebhookNotifier(cfg.NotifyURL, []byte(cfg.NotifySecret), cfg.NotifyTimeout)
}

// eventHandlers registers handler for every settlement outbox event type.
func eventHandlers(handler EventHandler) map[string]EventHandler {
	handlers := make(map[string]EventHandler, len(outbox.EventTypes))
	for _, eventType := range outbox.EventTypes {
		handlers[eventType] = handler
	}
	return handlers
}

type attemptStoreRecorder struct {
	store    workerstorage.AttemptStore
	consumer string
}

func newAttemptStoreRecorder(store workerstorage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer}
}

func (r *attemptStoreRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	consumer := strings.TrimSpace(r.consumer)
	if consumer == "" {
		consumer = defaultConsumer
	}
	return r.store.RecordAttempt(ctx, workerstorage.AttemptRecord{
		EventID:      attempt.EventID,
		EventType:    attempt.EventType,
		Consumer:     consumer,
		Outcome:      attempt.Outcome,
		AttemptCount: attempt.AttemptCount,
		LastError:    attempt.Error,
		CreatedAt:    attempt.CreatedAt,
	})
}
