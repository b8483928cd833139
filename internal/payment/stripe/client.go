// Package stripe talks to the Stripe payment intents REST API.
package stripe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/payment"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Client implements payment.Provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a client from configuration.
func New(cfg config.PaymentConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetPayment fetches the payment intent.
func (c *Client) GetPayment(ctx context.Context, intentID string) (*payment.Intent, error) {
	body, err := c.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(intentID), nil, "")
	if err != nil {
		return nil, err
	}
	return &payment.Intent{
		ID:       gjson.GetBytes(body, "id").String(),
		Status:   gjson.GetBytes(body, "status").String(),
		Amount:   gjson.GetBytes(body, "amount").Int(),
		Currency: gjson.GetBytes(body, "currency").String(),
	}, nil
}

// Capture captures the full authorized amount.
func (c *Client) Capture(ctx context.Context, intentID, idempotencyKey string) error {
	_, err := c.do(ctx, http.MethodPost, "/payment_intents/"+url.PathEscape(intentID)+"/capture", url.Values{}, idempotencyKey)
	return err
}

// Cancel releases an uncaptured hold.
func (c *Client) Cancel(ctx context.Context, intentID, idempotencyKey string) error {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")
	_, err := c.do(ctx, http.MethodPost, "/payment_intents/"+url.PathEscape(intentID)+"/cancel", form, idempotencyKey)
	return err
}

// Refund refunds a captured intent and returns the refund id.
func (c *Client) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	if amount > 0 {
		form.Set("amount", strconv.FormatInt(amount, 10))
	}
	body, err := c.do(ctx, http.MethodPost, "/refunds", form, idempotencyKey)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "id").String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("stripe: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe %s %s: %v", apperrors.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stripe: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: stripe %s %s: status %d", apperrors.ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: stripe %s", apperrors.ErrNotFound, path)
	case resp.StatusCode >= 400:
		msg := gjson.GetBytes(body, "error.message").String()
		code := gjson.GetBytes(body, "error.code").String()
		return nil, fmt.Errorf("stripe: %s %s: %d %s: %s", method, path, resp.StatusCode, code, msg)
	}
	return body, nil
}
