// Package httputil provides an HTTP client for the raffle API.
package httputil

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

	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/middleware"
)

// =============================================================================
// Service Client
// =============================================================================

// ServiceClient is an HTTP client that signs each request with a fresh
// service token and forwards the trace ID from the context.
type ServiceClient struct {
	httpClient *http.Client
	secret     string
	serviceID  string
	player     string
	tokenTTL   time.Duration
	baseURL    string
	maxRetries int
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	// Secret and ServiceID enable service tokens; both are required.
	Secret    string
	ServiceID string
	// Player makes the client sign player tokens for that address instead.
	Player     string
	TokenTTL   time.Duration
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	return &ServiceClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		secret:     cfg.Secret,
		serviceID:  cfg.ServiceID,
		player:     cfg.Player,
		tokenTTL:   ttl,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
	}
}

// Do executes an HTTP request. A 401 is retried with a newly issued token.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.doWithRetry(ctx, method, path, payload, 0)
}

func (c *ServiceClient) token() (string, error) {
	if c.secret == "" {
		return "", nil
	}
	switch {
	case c.player != "":
		token, err := middleware.GeneratePlayerToken(c.secret, c.player, c.tokenTTL)
		if err != nil {
			return "", fmt.Errorf("failed to generate player token: %w", err)
		}
		return token, nil
	case c.serviceID != "":
		token, err := middleware.GenerateServiceToken(c.secret, c.serviceID, c.tokenTTL)
		if err != nil {
			return "", fmt.Errorf("failed to generate service token: %w", err)
		}
		return token, nil
	}
	return "", nil
}

func (c *ServiceClient) doWithRetry(ctx context.Context, method, path string, payload []byte, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.token()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(middleware.ServiceTokenHeader, token)
	}
	if traceID := events.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(middleware.TraceHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && attempt < c.maxRetries {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return c.doWithRetry(ctx, method, path, payload, attempt+1)
	}

	return resp, nil
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// StatusError is returned by DecodeResponse for 4xx and 5xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether more were
// available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the body and fails when it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}
