// Package inference wraps the hosted prediction API that animates a pet
// photo into a short dance video. Results are delivered out-of-band through a
// signed completion webhook, never by polling from this client.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"petdance/internal/domain"
)

// ErrMissingToken indicates that the client was configured without credentials.
var ErrMissingToken = errors.New("inference: api token is required")

// Options configures the prediction API client.
type Options struct {
	Token          string
	BaseURL        string
	ModelVersion   string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the prediction API.
type Client struct {
	token        string
	baseURL      string
	modelVersion string
	httpClient   *http.Client
	logger       zerolog.Logger
}

// PredictionRequest captures the inputs for one video generation.
type PredictionRequest struct {
	ImageURL    string
	Instruction string
	CallbackURL string
}

// Prediction is the provider's acknowledgement of a started generation.
type Prediction struct {
	ID     string
	Status string
}

type createPredictionBody struct {
	Version             string          `json:"version,omitempty"`
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

type predictionInput struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type createPredictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		token:        strings.TrimSpace(opts.Token),
		baseURL:      baseURL,
		modelVersion: strings.TrimSpace(opts.ModelVersion),
		httpClient:   httpClient,
		logger:       logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.token != ""
}

// CreatePrediction starts one generation and returns the provider-assigned
// correlation id. Completion arrives later on the callback URL. Transport
// failures and provider 5xx responses map to domain.ErrProviderUnavailable so
// callers can safely retry without having mutated any state.
func (c *Client) CreatePrediction(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingToken
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, errors.New("inference: image url is required")
	}

	payload := createPredictionBody{
		Version: c.modelVersion,
		Input: predictionInput{
			Image:  req.ImageURL,
			Prompt: req.Instruction,
		},
		Webhook:             req.CallbackURL,
		WebhookEventsFilter: []string{"completed"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: http request: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inference: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("inference: status %d: %w", resp.StatusCode, domain.ErrProviderUnavailable)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded createPredictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("inference: provider error: %s", decoded.Error)
	}
	if decoded.ID == "" {
		return nil, errors.New("inference: empty prediction id")
	}

	c.logger.Debug().
		Str("prediction_id", decoded.ID).
		Str("status", decoded.Status).
		Msg("prediction created")

	return &Prediction{ID: decoded.ID, Status: decoded.Status}, nil
}

// FetchResult downloads the generated video from the locator reported in the
// completion callback.
func (c *Client) FetchResult(ctx context.Context, locator string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, "", fmt.Errorf("inference: build result request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("inference: fetch result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("inference: fetch result: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("inference: read result: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}
