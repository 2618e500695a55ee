// Package gateway provides the client for the external fee-collection gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Name identifies the collection provider on every order.
const Name = "Edviron"

// Config holds gateway client configuration.
type Config struct {
	BaseURL string        `envconfig:"GATEWAY_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"GATEWAY_API_KEY" required:"true"`
	SignKey string        `envconfig:"GATEWAY_PG_SECRET_KEY"`
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
}

// ErrSigningKeyMissing means the payload signing secret is not configured.
// The client refuses to send unsigned requests.
var ErrSigningKeyMissing = errors.New("gateway signing key not configured")

// Error reports a failed exchange with the gateway. Detail carries the
// upstream response for logging; it is never echoed to API clients.
type Error struct {
	Reason string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Reason, e.Status)
	}
	return "gateway: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// CollectRequest is the normalized result of a successful initiation.
type CollectRequest struct {
	RedirectURL string
	RequestID   string
}

// Client calls the gateway's create-collect-request endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Gateways have renamed the redirect and request-id fields across versions.
// Aliases are checked in priority order; extend the lists, not the control flow.
var (
	redirectURLAliases = []string{"collect_request_url", "Collect_request_url", "redirectURL", "redirect_url"}
	requestIDAliases   = []string{"collect_request_id", "collectRequestId", "request_id"}
)

// Initiate signs and sends a collection request, returning the URL the payer
// must be redirected to and the gateway's reference for the request.
func (c *Client) Initiate(ctx context.Context, schoolID string, amount float64, callbackURL string) (*CollectRequest, error) {
	if c.config.SignKey == "" {
		return nil, ErrSigningKeyMissing
	}

	payload := jwt.MapClaims{
		"school_id":    strings.TrimSpace(schoolID),
		"amount":       strconv.FormatFloat(amount, 'f', -1, 64),
		"callback_url": callbackURL,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	sign, err := token.SignedString([]byte(c.config.SignKey))
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}

	body := map[string]string{
		"school_id":    payload["school_id"].(string),
		"amount":       payload["amount"].(string),
		"callback_url": callbackURL,
		"sign":         sign,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/create-collect-request", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed", "error", err)
		return nil, &Error{Reason: "transport failure", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		c.logger.Error("gateway returned unexpected status",
			"status", httpResp.StatusCode,
			"body", string(respBody),
		)
		return nil, &Error{Reason: "unexpected status", Status: httpResp.StatusCode, Detail: string(respBody)}
	}

	var fields map[string]any
	if err := json.Unmarshal(respBody, &fields); err != nil {
		c.logger.Error("gateway returned unparseable body", "error", err, "body", string(respBody))
		return nil, &Error{Reason: "invalid response body", Status: httpResp.StatusCode, Err: err}
	}

	redirectURL := firstString(fields, redirectURLAliases)
	requestID := firstString(fields, requestIDAliases)
	if redirectURL == "" || requestID == "" {
		c.logger.Error("gateway returned incomplete response", "body", string(respBody))
		return nil, &Error{Reason: "incomplete response", Status: httpResp.StatusCode, Detail: string(respBody)}
	}

	c.logger.Info("collect request created",
		"request_id", requestID,
		"school_id", body["school_id"],
	)

	return &CollectRequest{
		RedirectURL: redirectURL,
		RequestID:   requestID,
	}, nil
}

// firstString returns the first alias present as a non-empty string.
func firstString(fields map[string]any, aliases []string) string {
	for _, name := range aliases {
		if v, ok := fields[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
