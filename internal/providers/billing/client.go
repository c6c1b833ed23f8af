// Package billing queries the subscription vendor for entitlement records.
// The vendor keys subscribers by the same id the identity provider issues, so
// no mapping table is needed on our side.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("billing: api key is required")

// Options configures the billing API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the subscription API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Entitlement is one grant of paid access, possibly time-limited.
type Entitlement struct {
	ExpiresAt  *time.Time
	PeriodType string
}

// Subscriber aggregates a user's entitlement and subscription records.
type Subscriber struct {
	Entitlements  []Entitlement
	Subscriptions []Entitlement
}

// HasAccess reports whether any record grants access now: no expiry, or an
// expiry in the future.
func (s *Subscriber) HasAccess(now time.Time) bool {
	if s == nil {
		return false
	}
	for _, e := range append(append([]Entitlement{}, s.Entitlements...), s.Subscriptions...) {
		if e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// InTrial reports whether the access currently granted comes from a trial
// period rather than a paid subscription.
func (s *Subscriber) InTrial(now time.Time) bool {
	if s == nil {
		return false
	}
	for _, e := range append(append([]Entitlement{}, s.Entitlements...), s.Subscriptions...) {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}
		if e.PeriodType != "trial" {
			return false
		}
	}
	return s.HasAccess(now)
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ExpiresDate *time.Time `json:"expires_date"`
			PeriodType  string     `json:"period_type"`
		} `json:"entitlements"`
		Subscriptions map[string]struct {
			ExpiresDate *time.Time `json:"expires_date"`
			PeriodType  string     `json:"period_type"`
		} `json:"subscriptions"`
	} `json:"subscriber"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.revenuecat.com/v1"
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GetSubscriber fetches the entitlement record for a user.
func (c *Client) GetSubscriber(ctx context.Context, userID string) (*Subscriber, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("billing: user id is required")
	}

	endpoint := c.baseURL + "/subscribers/" + userID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("billing: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("billing: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("billing: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("billing: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded subscriberResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("billing: decode response: %w", err)
	}

	sub := &Subscriber{}
	for _, e := range decoded.Subscriber.Entitlements {
		sub.Entitlements = append(sub.Entitlements, Entitlement{ExpiresAt: e.ExpiresDate, PeriodType: e.PeriodType})
	}
	for _, s := range decoded.Subscriber.Subscriptions {
		sub.Subscriptions = append(sub.Subscriptions, Entitlement{ExpiresAt: s.ExpiresDate, PeriodType: s.PeriodType})
	}

	c.logger.Debug().
		Str("user_id", userID).
		Int("entitlements", len(sub.Entitlements)).
		Int("subscriptions", len(sub.Subscriptions)).
		Msg("subscriber fetched")

	return sub, nil
}
