// Package grpc dials the settlement gRPC services and waits until the named
// health service reports SERVING.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// StageConnect marks a failure to build the client connection.
	StageConnect = "connect"
	// StageHealth marks a health service that never reported SERVING.
	StageHealth = "health"

	healthPollInitial = 100 * time.Millisecond
	healthPollMax     = time.Second
	healthCallTimeout = time.Second
)

// DialError reports which step of DialWithHealth failed.
type DialError struct {
	Stage string
	Addr  string
	Err   error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("grpc %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// DefaultClientDialOptions returns plaintext credentials and the otelgrpc
// client handler so outbound calls carry trace context.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialWithHealth opens a client for addr and blocks until service reports
// SERVING, bounded by timeout when positive. The connection is closed on
// failure.
func DialWithHealth(ctx context.Context, addr, service string, timeout time.Duration, logf func(string, ...any), opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: StageConnect, Addr: addr, Err: err}
	}
	if err := WaitForHealth(ctx, conn, service, logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: StageHealth, Addr: addr, Err: err}
	}
	return conn, nil
}

// WaitForHealth polls the health service with exponential backoff until it
// reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return errors.New("grpc connection is required")
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	client := grpc_health_v1.NewHealthClient(conn)
	check := func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, healthCallTimeout)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return struct{}{}, err
		}
		if status := resp.GetStatus(); status != grpc_health_v1.HealthCheckResponse_SERVING {
			return struct{}{}, fmt.Errorf("status %s", status)
		}
		return struct{}{}, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     healthPollInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         healthPollMax,
	}
	policy.Reset()
	_, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(policy),
		backoff.WithNotify(func(err error, next time.Duration) {
			logf("health %q not serving, retry in %s: %v", service, next, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("wait for health %q: %w", service, err)
	}
	logf("health %q is serving", service)
	return nil
}
