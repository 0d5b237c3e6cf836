// Package hmackey generates settlement shared secrets and signs sample
// payment callbacks with them.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/louisbranch/settlement/internal/services/settlement/payment"
)

// secretEnv maps a secret kind to the variable that carries it.
var secretEnv = map[string]string{
	"webhook": "SETTLEMENT_WEBHOOK_SECRET",
	"jwt":     "SETTLEMENT_JWT_SECRET",
	"notify":  "SETTLEMENT_WORKER_NOTIFY_SECRET",
}

// Config holds configuration for key generation and signing.
type Config struct {
	Bytes   int
	Secret  string
	SignKey string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, Secret: "webhook"}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes (default: 32)")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "secret to generate: "+strings.Join(secretKinds(), ", "))
	fs.StringVar(&cfg.SignKey, "sign", cfg.SignKey, "sign stdin with this webhook secret instead of generating one")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes it to out as an env assignment.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}
	name, ok := secretEnv[strings.ToLower(strings.TrimSpace(cfg.Secret))]
	if !ok {
		return fmt.Errorf("unknown secret %q, want one of %s", cfg.Secret, strings.Join(secretKinds(), ", "))
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "%s=%s\n", name, hex.EncodeToString(buf))
	return err
}

// Sign writes the signature header a payment provider would send with the
// payload read from in.
func Sign(cfg Config, out io.Writer, in io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if in == nil {
		return errors.New("payload input is required")
	}
	verifier, err := payment.NewVerifier([]byte(cfg.SignKey))
	if err != nil {
		return err
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", payment.SignatureHeader, verifier.Sign(body))
	return err
}

func secretKinds() []string {
	kinds := make([]string, 0, len(secretEnv))
	for kind := range secretEnv {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
