package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// Config controls the host API client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryMax   int
	RetryWait  time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns client defaults for baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		RetryMax:   3,
		RetryWait:  500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
	}
}

// APIError is a failure reported by the host API
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// Card summarizes a registered runtime card
type Card struct {
	ID           string    `json:"id"`
	Hash         string    `json:"hash"`
	Size         int       `json:"size"`
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Client talks to a running host API. Transient failures (connection errors,
// 5xx, 429) are retried with backoff.
type Client struct {
	resty *resty.Client
}

// New creates a client
func New(cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = cfg.MaxBackoff
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	r := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "cardruntime-cli/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	return &Client{resty: r}
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var failure envelope
	req := c.resty.R().
		SetContext(ctx).
		SetError(&failure)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if failure.Error == nil {
			return &APIError{Status: resp.StatusCode(), Code: "HTTP_ERROR", Message: resp.Status()}
		}
		failure.Error.Status = resp.StatusCode()
		return failure.Error
	}
	return nil
}

// RegisterCard uploads a runtime card
func (c *Client) RegisterCard(ctx context.Context, cardID, code string) error {
	return c.do(ctx, http.MethodPost, "/cards", map[string]string{"id": cardID, "code": code}, nil)
}

// UnregisterCard removes a runtime card
func (c *Client) UnregisterCard(ctx context.Context, cardID string) error {
	return c.do(ctx, http.MethodDelete, "/cards/"+cardID, nil, nil)
}

// ListCards lists registered runtime cards
func (c *Client) ListCards(ctx context.Context) ([]Card, error) {
	var out struct {
		Cards []Card `json:"cards"`
	}
	if err := c.do(ctx, http.MethodGet, "/cards", nil, &out); err != nil {
		return nil, err
	}
	return out.Cards, nil
}

// Actions drains forwarded host actions
func (c *Client) Actions(ctx context.Context) ([]router.HostAction, error) {
	var out struct {
		Actions []router.HostAction `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, "/actions", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// Health reports whether the host runtime is ready
func (c *Client) Health(ctx context.Context) (types.Health, error) {
	var out struct {
		Runtime types.Health `json:"runtime"`
	}
	resp, err := c.resty.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return types.Health{}, fmt.Errorf("GET /health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusServiceUnavailable {
		return types.Health{}, &APIError{Status: resp.StatusCode(), Code: "HTTP_ERROR", Message: resp.Status()}
	}
	return out.Runtime, nil
}
