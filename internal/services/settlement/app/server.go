// Package server wires the settlement runtime: storage, the HTTP API, the
// admin gRPC API and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/platform/authn"
	"github.com/louisbranch/settlement/internal/platform/timeouts"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse/boltstore"
	"github.com/louisbranch/settlement/internal/services/settlement/api/grpc/admin"
	httpapi "github.com/louisbranch/settlement/internal/services/settlement/api/http"
	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	settlementsqlite "github.com/louisbranch/settlement/internal/services/settlement/storage/sqlite"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// CounterStoreMemory keeps abuse counters in process memory.
	CounterStoreMemory = "memory"
	// CounterStoreBolt keeps abuse counters in a BoltDB file.
	CounterStoreBolt = "bolt"

	defaultDBPath        = "data/settlement.db"
	defaultCounterPath   = "data/abuse-counters.db"
	defaultPurgeInterval = time.Hour
)

// Config controls settlement runtime startup.
type Config struct {
	HTTPAddr                 string
	GRPCAddr                 string
	DBPath                   string
	WebhookSecret            string
	JWTSecret                string
	JWTIssuer                string
	JWTAudience              string
	Currency                 string
	DefaultCommissionRate    decimal.NullDecimal
	CheckoutBaseURL          string
	IdempotencyTTL           time.Duration
	IdempotencyPurgeInterval time.Duration
	AbusePolicyPath          string
	CounterStore             string
	CounterPath              string
	TrustForwarded           bool
}

// Server hosts the settlement HTTP and gRPC APIs and their storage.
type Server struct {
	httpListener  net.Listener
	grpcListener  net.Listener
	httpServer    *http.Server
	grpcServer    *grpc.Server
	health        *health.Server
	store         *settlementsqlite.Store
	counters      *boltstore.Store
	ledger        *idempotency.Ledger
	purgeInterval time.Duration
}

// New opens storage, builds both APIs and binds their listeners.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.IdempotencyPurgeInterval <= 0 {
		cfg.IdempotencyPurgeInterval = defaultPurgeInterval
	}

	s := &Server{purgeInterval: cfg.IdempotencyPurgeInterval}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	store, err := openSettlementStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s.store = store

	verifier, err := payment.NewVerifier([]byte(cfg.WebhookSecret))
	if err != nil {
		return nil, err
	}
	svc, err := service.New(service.Config{
		Currency:              cfg.Currency,
		DefaultCommissionRate: cfg.DefaultCommissionRate,
	}, service.Deps{
		Store:    store,
		Verifier: verifier,
		Checkout: payment.LocalCheckout{BaseURL: cfg.CheckoutBaseURL},
	})
	if err != nil {
		return nil, err
	}

	callers, err := authn.NewVerifier(authn.Config{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		return nil, err
	}

	gate, err := s.buildGate(cfg, store)
	if err != nil {
		return nil, err
	}
	s.ledger = idempotency.NewLedger(store, cfg.IdempotencyTTL, nil)

	handler, err := httpapi.New(httpapi.Options{
		Service:        svc,
		Ledger:         s.ledger,
		Gate:           gate,
		Authn:          callers.Middleware(),
		TrustForwarded: cfg.TrustForwarded,
	})
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{Handler: handler, ReadHeaderTimeout: timeouts.ReadHeader}

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(adminOnly(callers.UnaryServerInterceptor())),
	)
	admin.RegisterAdminServiceServer(s.grpcServer, admin.NewService(svc))
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(admin.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	if s.httpListener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	if s.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	ok = true
	return s, nil
}

func (s *Server) buildGate(cfg Config, recorder abuse.RiskRecorder) (*abuse.Gate, error) {
	policy := abuse.DefaultPolicy()
	if path := strings.TrimSpace(cfg.AbusePolicyPath); path != "" {
		loaded, err := abuse.LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}

	var counters abuse.CounterStore
	switch strings.ToLower(strings.TrimSpace(cfg.CounterStore)) {
	case "", CounterStoreMemory:
		counters = abuse.NewMemoryCounterStore()
	case CounterStoreBolt:
		path := strings.TrimSpace(cfg.CounterPath)
		if path == "" {
			path = defaultCounterPath
		}
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		bolt, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		s.counters = bolt
		counters = bolt
	default:
		return nil, fmt.Errorf("unknown counter store %q", cfg.CounterStore)
	}
	return abuse.NewGate(policy, counters, recorder, nil), nil
}

// adminOnly applies auth to the admin service and leaves health checks open.
func adminOnly(auth grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	prefix := "/" + admin.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, prefix) {
			return auth(ctx, req, info, handler)
		}
		return handler(ctx, req)
	}
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a settlement server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs both APIs and the idempotency purge loop until context
// cancellation or the first server failure.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("settlement http listening at %v", s.httpListener.Addr())
	log.Printf("settlement grpc listening at %v", s.grpcListener.Addr())
	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- fmt.Errorf("serve gRPC: %w", err)
			return
		}
		serveErr <- nil
	}()
	go func() {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve HTTP: %w", err)
			return
		}
		serveErr <- nil
	}()

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go s.purgeLoop(purgeCtx)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	stopPurge()
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	if s.health != nil {
		s.health.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown settlement http: %v", err)
	}
	s.grpcServer.GracefulStop()
}

// purgeLoop drops expired idempotency records on a fixed interval.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.ledger.PurgeExpired(ctx)
			if err != nil {
				log.Printf("purge idempotency records: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("purged idempotency records count=%d", removed)
			}
		}
	}
}

// Close releases settlement server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	for _, listener := range []net.Listener{s.httpListener, s.grpcListener} {
		if listener != nil {
			_ = listener.Close()
		}
	}
	if s.counters != nil {
		if err := s.counters.Close(); err != nil {
			log.Printf("close abuse counter store: %v", err)
		}
		s.counters = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close settlement store: %v", err)
		}
		s.store = nil
	}
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}

func openSettlementStore(path string) (*settlementsqlite.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store, err := settlementsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settlement sqlite store: %w", err)
	}
	return store, nil
}
