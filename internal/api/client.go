package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/validation"
)

const (
	DefaultTimeout = 30 * time.Second

	supportBasePath = "/support/chat"
)

// Client is the support chat REST client.
//
// The client includes a circuit breaker that tracks server failures across requests.
// Circuit breaker state persists for the lifetime of the client, so a view that
// reopens after a server outage should call ResetCircuitBreaker first.
type Client struct {
	BaseURL            string
	APIToken           string
	HTTP               *http.Client
	UserAgent          string
	IdempotencyKey     string
	IdempotencyKeyFunc func() string
	RetryConfig        RetryConfig     // retry and circuit breaker configuration
	skipURLValidation  bool            // internal flag for testing only
	circuitBreaker     *circuitBreaker // circuit breaker for retry logic
	validatedBaseURL   bool
	validateMu         sync.Mutex
}

// Compile-time interface implementation checks
var (
	_ Requester    = (*Client)(nil)
	_ PathResolver = (*Client)(nil)
	_ HTTPExecutor = (*Client)(nil)
)

var validateBaseURL = validation.ValidateBaseURL

// New creates a new support chat API client
func New(baseURL, token string) *Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12

	// Allow localhost URLs when SUPPORTSYNC_TESTING=1 is set (for integration tests)
	skipValidation := os.Getenv("SUPPORTSYNC_TESTING") == "1"

	retryCfg := DefaultRetryConfig()
	return &Client{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		APIToken:          token,
		RetryConfig:       retryCfg,
		skipURLValidation: skipValidation,
		HTTP: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		circuitBreaker: &circuitBreaker{
			threshold: retryCfg.CircuitBreakerThreshold,
			resetTime: retryCfg.CircuitBreakerResetTime,
		},
	}
}

// NewForTesting creates a client with URL validation disabled so that
// httptest servers on localhost can be used from other packages' tests.
func NewForTesting(baseURL, token string) *Client {
	c := New(baseURL, token)
	c.skipURLValidation = true
	c.SetRetryConfig(RetryConfig{})
	return c
}

// ResetCircuitBreaker clears the circuit breaker state, resetting failure counts
// and closing the circuit.
func (c *Client) ResetCircuitBreaker() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.reset()
	}
}

// SetRetryConfig updates the retry configuration and aligns circuit breaker settings.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.RetryConfig = cfg
	if c.circuitBreaker != nil {
		c.circuitBreaker.threshold = cfg.CircuitBreakerThreshold
		c.circuitBreaker.resetTime = cfg.CircuitBreakerResetTime
	}
}

func (c *Client) ensureBaseURLValidated() error {
	if c.skipURLValidation {
		return nil
	}

	c.validateMu.Lock()
	defer c.validateMu.Unlock()

	if c.validatedBaseURL {
		return nil
	}

	if err := validateBaseURL(c.BaseURL); err != nil {
		return fmt.Errorf("URL validation failed: %w", err)
	}

	c.validatedBaseURL = true
	return nil
}

// supportPath returns the full URL for a support chat endpoint.
func (c *Client) supportPath(path string) string {
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return c.BaseURL + supportBasePath + path
}

// do performs an HTTP request and decodes the response
func (c *Client) do(ctx context.Context, method, url string, body any, result any) error {
	respBody, _, _, err := c.executeRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	}
	return nil
}

// executeRequest marshals the body once and delegates to executeRequestWithBody.
func (c *Client) executeRequest(ctx context.Context, method, url string, body any) ([]byte, http.Header, int, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	return c.executeRequestWithBody(ctx, method, url, jsonBody, "application/json")
}

// executeRequestWithBody performs HTTP requests with retry and circuit breaker logic.
// contentType can be empty to omit the Content-Type header.
func (c *Client) executeRequestWithBody(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, http.Header, int, error) {
	if c.circuitBreaker != nil && c.circuitBreaker.isOpen() {
		return nil, nil, 0, &CircuitBreakerError{}
	}

	if err := c.ensureBaseURLValidated(); err != nil {
		return nil, nil, 0, err
	}

	idempotencyKey := c.IdempotencyKey
	if idempotencyKey == "" && c.IdempotencyKeyFunc != nil {
		idempotencyKey = c.IdempotencyKeyFunc()
	}

	// GET and PUT are safe to replay; POST only with an idempotency key.
	isIdempotent := method == http.MethodGet || method == http.MethodHead || method == http.MethodPut
	if !isIdempotent && idempotencyKey != "" {
		isIdempotent = true
	}

	var retries429, retries5xx int
	attempt := 0

	for {
		attempt++
		start := time.Now()
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to create request: %w", err)
		}

		if c.APIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIToken)
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		if contentType != "" && body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if idempotencyKey != "" && method == http.MethodPost {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if debug.IsEnabled(ctx) {
				slog.Debug("request failed", "method", method, "url", url, "attempt", attempt, "error", err)
			}
			return nil, nil, 0, fmt.Errorf("request failed: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read response: %w", err)
		}
		if debug.IsEnabled(ctx) {
			slog.Debug("request complete", "method", method, "url", url, "status", resp.StatusCode, "attempt", attempt, "duration", time.Since(start))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, hasRetryAfter := retryAfterDuration(resp.Header)
			baseDelay := c.RetryConfig.RateLimitBaseDelay
			if !isIdempotent || retries429 >= c.RetryConfig.MaxRateLimitRetries {
				if hasRetryAfter {
					return nil, nil, resp.StatusCode, &RateLimitError{RetryAfter: retryAfter}
				}
				return nil, nil, resp.StatusCode, &RateLimitError{RetryAfter: baseDelay}
			}
			delay := retryAfter
			if !hasRetryAfter {
				delay = baseDelay * time.Duration(1<<retries429)
			}
			slog.Info("rate limited, retrying", "delay", delay, "attempt", retries429+1)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, nil, 0, err
			}
			retries429++
			continue
		}

		if resp.StatusCode >= 500 {
			if c.circuitBreaker != nil {
				c.circuitBreaker.recordFailure()
			}
			if isIdempotent && retries5xx < c.RetryConfig.Max5xxRetries {
				slog.Info("server error, retrying", "status", resp.StatusCode)
				if err := sleepWithContext(ctx, c.RetryConfig.ServerErrorRetryDelay); err != nil {
					return nil, nil, 0, err
				}
				retries5xx++
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return respBody, resp.Header, resp.StatusCode, &AuthError{Reason: sanitizeErrorBody(string(respBody))}
		}

		if resp.StatusCode >= 400 {
			return respBody, resp.Header, resp.StatusCode, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(string(respBody)),
				RequestID:  requestIDFromHeader(resp.Header),
			}
		}

		if c.circuitBreaker != nil {
			c.circuitBreaker.recordSuccess()
		}

		return respBody, resp.Header, resp.StatusCode, nil
	}
}

// doRaw performs an HTTP request and returns the raw response body
func (c *Client) doRaw(ctx context.Context, method, url string, body any) ([]byte, error) {
	respBody, _, _, err := c.executeRequest(ctx, method, url, body)
	return respBody, err
}

// DoRaw performs a request against a support chat path and returns the raw
// response body, headers and status code.
func (c *Client) DoRaw(ctx context.Context, method, path string, body any) ([]byte, http.Header, int, error) {
	return c.executeRequest(ctx, method, c.supportPath(path), body)
}

func requestIDFromHeader(header http.Header) string {
	if header == nil {
		return ""
	}
	if id := header.Get("X-Request-Id"); id != "" {
		return id
	}
	return header.Get("X-Request-ID")
}

// sanitizeErrorBody extracts a safe error message from an API response
// without echoing arbitrary response bodies back to the terminal.
func sanitizeErrorBody(body string) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Errors  any    `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err != nil {
		return "API request failed (response body redacted for security)"
	}

	validationErrors := formatValidationErrors(errResp.Errors)

	var result string
	if errResp.Error != "" {
		result = errResp.Error
	} else if errResp.Message != "" {
		result = errResp.Message
	}

	if validationErrors != "" {
		if result != "" {
			return result + "\nValidation errors:\n" + validationErrors
		}
		return "Validation errors:\n" + validationErrors
	}

	if result != "" {
		return result
	}

	return "API request failed (response body redacted for security)"
}

// formatValidationErrors formats the errors field from API validation responses.
// Handles both map[string]string and map[string][]string formats.
func formatValidationErrors(errors any) string {
	errMap, ok := errors.(map[string]any)
	if !ok || len(errMap) == 0 {
		return ""
	}

	var lines []string
	for field, value := range errMap {
		switch v := value.(type) {
		case string:
			lines = append(lines, fmt.Sprintf("  %s: %s", field, v))
		case []any:
			for _, msg := range v {
				if msgStr, ok := msg.(string); ok {
					lines = append(lines, fmt.Sprintf("  %s: %s", field, msgStr))
				}
			}
		}
	}

	if len(lines) == 0 {
		return ""
	}

	// Sort for consistent output (important for testing)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// APIError represents an error response from the API
type APIError struct {
	StatusCode int
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// HealthCheck checks if the support server is reachable via GET /health.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}
