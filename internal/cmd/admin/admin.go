// Package admin parses the finance admin CLI and calls the settlement admin
// gRPC API.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/settlement/internal/platform/cmd"
	"github.com/louisbranch/settlement/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/settlement/internal/platform/grpc"
	"github.com/louisbranch/settlement/internal/platform/timeouts"
	"github.com/louisbranch/settlement/internal/services/settlement/api/grpc/admin"
	"github.com/louisbranch/settlement/internal/services/shared/grpcauthctx"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Commands accepted after the global flags.
const (
	CommandSetCommissionRate = "set-commission-rate"
	CommandResolveDispute    = "resolve-dispute"
	CommandReconciliation    = "reconciliation"
)

// Config holds the admin command configuration.
type Config struct {
	Addr        string        `env:"SETTLEMENT_ADMIN_ADDR"`
	Token       string        `env:"SETTLEMENT_ADMIN_TOKEN"`
	Locale      string        `env:"SETTLEMENT_ADMIN_LOCALE" envDefault:"en-US"`
	DialTimeout time.Duration `env:"SETTLEMENT_ADMIN_DIAL_TIMEOUT"`
	Command     string
	Args        []string
}

// ParseConfig parses environment and flags into a Config. The first
// positional argument names the command; the rest are its flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Addr = discovery.OrDefaultGRPCAddr(cfg.Addr, discovery.ServiceSettlement)
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = timeouts.GRPCDial
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The settlement admin gRPC address")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Admin bearer token")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for error messages")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "gRPC dial and health timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, fmt.Errorf("command is required: %s, %s or %s", CommandSetCommissionRate, CommandResolveDispute, CommandReconciliation)
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	if strings.TrimSpace(cfg.Token) == "" {
		return Config{}, errors.New("admin token is required")
	}
	return cfg, nil
}

// Run dials the settlement service and executes the configured command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	opts := append(
		platformgrpc.DefaultClientDialOptions(),
		grpc.WithChainUnaryInterceptor(grpcauthctx.BearerUnaryClientInterceptor(cfg.Token, cfg.Locale)),
	)
	logf := func(format string, args ...any) {
		log.Printf("admin settlement "+format, args...)
	}
	conn, err := platformgrpc.DialWithHealth(ctx, cfg.Addr, admin.ServiceName, cfg.DialTimeout, logf, opts...)
	if err != nil {
		return fmt.Errorf("dial settlement: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("close settlement connection: %v", closeErr)
		}
	}()
	return Execute(ctx, admin.NewAdminServiceClient(conn), cfg.Command, cfg.Args, out)
}

// Execute runs one command against client and writes the JSON reply to out.
func Execute(ctx context.Context, client admin.AdminServiceClient, command string, args []string, out io.Writer) error {
	if client == nil {
		return errors.New("admin client is required")
	}
	if out == nil {
		return errors.New("output is required")
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fields := map[string]*string{}
	field := func(name, usage string) {
		fields[name] = fs.String(strings.ReplaceAll(name, "_", "-"), "", usage)
	}

	var call func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)
	var required []string
	switch command {
	case CommandSetCommissionRate:
		field("rate", "commission rate between 0 and 1")
		field("effective_from", "RFC 3339 time the rate applies from")
		required = []string{"rate"}
		call = client.SetCommissionRate
	case CommandResolveDispute:
		field("dispute_id", "dispute to resolve")
		field("outcome", "refund_full, refund_partial or reject")
		field("liability", "seller, platform or shared")
		field("amount", "partial refund amount")
		field("note", "resolution note")
		required = []string{"dispute_id", "outcome"}
		call = client.ResolveDispute
	case CommandReconciliation:
		field("from", "RFC 3339 period start")
		field("to", "RFC 3339 period end")
		call = client.GetReconciliationReport
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}

	values := map[string]any{}
	for name, value := range fields {
		if trimmed := strings.TrimSpace(*value); trimmed != "" {
			values[name] = trimmed
		}
	}
	for _, name := range required {
		if _, ok := values[name]; !ok {
			return fmt.Errorf("%s: -%s is required", command, strings.ReplaceAll(name, "_", "-"))
		}
	}
	in, err := structpb.NewStruct(values)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", command, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	defer cancel()
	reply, err := call(callCtx, in)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	encoded, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(reply)
	if err != nil {
		return fmt.Errorf("%s: encode reply: %w", command, err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
