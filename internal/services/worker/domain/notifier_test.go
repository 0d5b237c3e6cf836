package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/settlement/internal/services/settlement/payment"
)

func TestWebhookNotifier_SignsAndPosts(t *testing.T) {
	secret := []byte("notify-secret")
	verifier, err := payment.NewVerifier(secret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	var got Notification
	var verifyErr error
	var dedupe string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifyErr = verifier.Verify(body, r.Header.Get(payment.SignatureHeader))
		dedupe = r.Header.Get(DedupeKeyHeader)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier, err := NewWebhookNotifier(srv.URL, secret, 0)
	if err != nil {
		t.Fatalf("new webhook notifier: %v", err)
	}
	sent := Notification{RecipientID: "seller-1", Topic: TopicOrderPaid, DedupeKey: "k-1", EventID: "evt-1", Data: map[string]string{"order_id": "ord-1"}}
	if err := notifier.Notify(context.Background(), sent); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if verifyErr != nil {
		t.Fatalf("signature verify: %v", verifyErr)
	}
	if dedupe != "k-1" {
		t.Fatalf("dedupe header = %q, want k-1", dedupe)
	}
	if got.RecipientID != "seller-1" || got.Data["order_id"] != "ord-1" {
		t.Fatalf("delivered = %+v, want seller-1 ord-1", got)
	}
}

func TestWebhookNotifier_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{status: http.StatusBadRequest, permanent: true},
		{status: http.StatusGone, permanent: true},
		{status: http.StatusTooManyRequests, permanent: false},
		{status: http.StatusRequestTimeout, permanent: false},
		{status: http.StatusBadGateway, permanent: false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			notifier, err := NewWebhookNotifier(srv.URL, []byte("s"), 0)
			if err != nil {
				t.Fatalf("new webhook notifier: %v", err)
			}
			err = notifier.Notify(context.Background(), Notification{Topic: TopicOrderPaid})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("permanent = %v, want %v (%v)", IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestNewWebhookNotifierRequiresURLAndSecret(t *testing.T) {
	if _, err := NewWebhookNotifier(" ", []byte("s"), 0); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewWebhookNotifier("http://example.test", nil, 0); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestLogNotifier_WritesSortedFields(t *testing.T) {
	var line string
	notifier := LogNotifier{Logf: func(format string, args ...any) {
		line = fmt.Sprintf(format, args...)
	}}
	if err := notifier.Notify(context.Background(), Notification{
		RecipientID: "buyer-1",
		Topic:       TopicPaymentReceived,
		EventID:     "evt-1",
		DedupeKey:   "k",
		Data:        map[string]string{"order_id": "ord-1", "currency": "TRY"},
	}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.HasSuffix(line, " currency=TRY order_id=ord-1") {
		t.Fatalf("line = %q, want sorted data fields", line)
	}
	if !strings.Contains(line, "recipient=buyer-1") {
		t.Fatalf("line = %q, want recipient", line)
	}
}
