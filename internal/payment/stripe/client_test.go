package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acme/call-session-orchestrator/internal/config"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_intents/pi_123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "sk_test" {
			t.Errorf("expected api key as basic auth user")
		}
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_capture","amount":4500,"currency":"eur"}`))
	}))
	defer srv.Close()

	client := New(config.PaymentConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	intent, err := client.GetPayment(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if !intent.Actionable() || intent.Amount != 4500 {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestRefundSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "refund-s1" {
			t.Errorf("unexpected idempotency key %q", got)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("payment_intent") != "pi_123" || r.PostForm.Get("amount") != "4500" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	client := New(config.PaymentConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	id, err := client.Refund(context.Background(), "pi_123", 4500, "refund-s1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if id != "re_1" {
		t.Fatalf("unexpected refund id %q", id)
	}
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(config.PaymentConfig{BaseURL: srv.URL})
	if err := client.Capture(context.Background(), "pi_1", "k"); !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
