// Package twilio places conference legs through the Twilio Calls REST API.
package twilio

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
	"github.com/acme/call-session-orchestrator/internal/telephony"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client implements telephony.Provider.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

// New builds a client from configuration.
func New(cfg config.TelephonyConfig) *Client {
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
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PlaceCall creates an outbound call running the supplied instructions.
func (c *Client) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (string, error) {
	from := req.From
	if from == "" {
		from = c.from
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Twiml", req.Instructions)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, evt := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", evt)
		}
	}
	if req.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.Timeout/time.Second)))
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}

	body, err := c.post(ctx, c.callsURL(""), form)
	if err != nil {
		return "", err
	}
	sid := gjson.GetBytes(body, "sid").String()
	if sid == "" {
		return "", fmt.Errorf("twilio: create call: response without sid")
	}
	return sid, nil
}

// CancelCall ends the call whether it is still ringing or already answered.
func (c *Client) CancelCall(ctx context.Context, callID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	_, err := c.post(ctx, c.callsURL(callID), form)
	return err
}

func (c *Client) callsURL(callID string) string {
	if callID == "" {
		return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	}
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, url.PathEscape(callID))
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: twilio: status %d", apperrors.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("twilio: API error (%d): %s", resp.StatusCode, gjson.GetBytes(body, "message").String())
	}
	return body, nil
}
