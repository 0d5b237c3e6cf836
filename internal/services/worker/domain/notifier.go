package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/payment"
)

// Headers set on webhook deliveries.
const (
	DedupeKeyHeader = "Idempotency-Key"
	TopicHeader     = "X-Settlement-Topic"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts notifications as signed JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	signer *payment.Verifier
	client *http.Client
}

// NewWebhookNotifier builds a notifier that signs bodies with secret using the
// same "sha256=<hex>" scheme the payment webhook accepts.
func NewWebhookNotifier(url string, secret []byte, timeout time.Duration) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("notification url is required")
	}
	signer, err := payment.NewVerifier(secret)
	if err != nil {
		return nil, fmt.Errorf("notification signer: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		url:    url,
		signer: signer,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Notify delivers one notification. Client errors other than timeouts and
// rate limits are permanent.
func (n *WebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return Permanent(fmt.Errorf("encode notification: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build notification request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payment.SignatureHeader, n.signer.Sign(body))
	req.Header.Set(DedupeKeyHeader, notification.DedupeKey)
	req.Header.Set(TopicHeader, notification.Topic)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("deliver notification: status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Permanent(fmt.Errorf("deliver notification: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("deliver notification: status %d", resp.StatusCode)
	}
}

// LogNotifier writes notifications to a logger when no endpoint is configured.
type LogNotifier struct {
	Logf func(format string, args ...any)
}

// Notify logs notification as key=value pairs.
func (n LogNotifier) Notify(_ context.Context, notification Notification) error {
	logf := n.Logf
	if logf == nil {
		logf = log.Printf
	}
	keys := make([]string, 0, len(notification.Data))
	for key := range notification.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var fields strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&fields, " %s=%s", key, notification.Data[key])
	}
	logf("notify topic=%s recipient=%s event_id=%s dedupe_key=%s%s",
		notification.Topic,
		notification.RecipientID,
		notification.EventID,
		notification.DedupeKey,
		fields.String(),
	)
	return nil
}
