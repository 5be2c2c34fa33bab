// Package client talks to the regcycle HTTP API on behalf of one user session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/jonboulle/clockwork"
)

const defaultTimeoutSeconds = 30

var (
	// ErrUnavailable is returned when the server could not be reached or kept failing.
	ErrUnavailable = errors.New("server unavailable")
	// ErrServerError is returned when the server answers with a 5xx status.
	ErrServerError = errors.New("server error during HTTP request")
)

// StatusError is a non-2xx answer other than a version conflict.
type StatusError struct {
	StatusCode int
	Type       string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}

	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Detail)
}

// RetryConfig defines retry behavior for requests that fail in transport or with a 5xx status.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// StepUpdate mirrors the API answer to a step write.
type StepUpdate struct {
	Success    bool                   `json:"success"`
	NewVersion int64                  `json:"new_version,omitempty"`
	Step       *models.Step           `json:"step"`
	Conflict   *models.ConflictRecord `json:"conflict,omitempty"`
}

type stepWrite struct {
	Data            map[string]any `json:"data"`
	ExpectedVersion int64          `json:"expected_version"`
}

type Client struct {
	baseURL string
	scope   models.Scope
	http    *http.Client
	retry   RetryConfig
	clock   clockwork.Clock
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

func WithRetry(retry RetryConfig) Option {
	return func(c *Client) {
		if retry.Attempts > 0 {
			c.retry = retry
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func New(baseURL string, scope models.Scope, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		scope:   scope,
		http: &http.Client{
			Transport:     nil,
			CheckRedirect: nil,
			Jar:           nil,
			Timeout:       defaultTimeoutSeconds * time.Second,
		},
		retry:  RetryConfig{Attempts: 1, Delay: 0},
		clock:  clockwork.NewRealClock(),
		logger: logger.With("module", "api_client", "user_id", scope.UserID),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) url(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}

	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{
		"Content-Type":        "application/json",
		"Accept":              "application/json",
		models.HeaderTenantID: c.scope.TenantID,
		models.HeaderUserID:   c.scope.UserID,
	}

	if c.scope.SessionID != "" {
		headers[models.HeaderSessionID] = c.scope.SessionID
	}

	return headers
}

// StepUpdateAction builds the request that writes a step, in the shape kept by the offline queue.
func (c *Client) StepUpdateAction(cycleID, stepID string, data map[string]any, expectedVersion int64) (*models.OfflineAction, error) {
	body, err := json.Marshal(stepWrite{Data: data, ExpectedVersion: expectedVersion})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step data: %w", err)
	}

	return &models.OfflineAction{
		URL:     c.url("cycles", cycleID, "steps", stepID),
		Method:  http.MethodPut,
		Headers: c.headers(),
		Body:    body,
	}, nil
}

// UpdateStep writes step data. A version conflict is returned as data with Success false.
func (c *Client) UpdateStep(
	ctx context.Context,
	cycleID, stepID string,
	data map[string]any,
	expectedVersion int64,
) (*StepUpdate, error) {
	action, err := c.StepUpdateAction(cycleID, stepID, data, expectedVersion)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, action)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK || status == http.StatusConflict {
		var update StepUpdate
		if err := json.Unmarshal(body, &update); err == nil && (status == http.StatusOK || update.Conflict != nil) {
			return &update, nil
		}
	}

	return nil, statusError(status, body)
}

// Heartbeat keeps the session's presence in a cycle fresh.
func (c *Client) Heartbeat(ctx context.Context, cycleID string) error {
	status, body, err := c.do(ctx, &models.OfflineAction{
		URL:     c.url("cycles", cycleID, "presence", "heartbeat"),
		Method:  http.MethodPost,
		Headers: c.headers(),
	})
	if err != nil {
		return err
	}

	if status >= http.StatusMultipleChoices {
		return statusError(status, body)
	}

	return nil
}

// Send delivers a queued action and reports the response status.
func (c *Client) Send(ctx context.Context, action *models.OfflineAction) (int, error) {
	status, _, err := c.do(ctx, action)

	return status, err
}

func (c *Client) do(ctx context.Context, action *models.OfflineAction) (int, []byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 1 {
			c.logger.InfoContext(ctx, fmt.Sprintf("request retry attempt %d/%d", attempt, c.retry.Attempts),
				"method", action.Method, "url", action.URL)

			if err := c.wait(ctx); err != nil {
				return 0, nil, err
			}
		}

		req, err := c.buildRequest(ctx, action)
		if err != nil {
			return 0, nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		body, err := readBody(resp)
		if err != nil {
			lastErr = err

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error (status %d): %w", resp.StatusCode, ErrServerError)

			continue
		}

		c.logger.DebugContext(ctx, "request completed", "method", action.Method, "url", action.URL, "status", resp.StatusCode)

		return resp.StatusCode, body, nil
	}

	return 0, nil, fmt.Errorf("%w: all retry attempts failed, last error: %w", ErrUnavailable, lastErr)
}

func (c *Client) wait(ctx context.Context) error {
	if c.retry.Delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.retry.Delay):
		return nil
	}
}

func (c *Client) buildRequest(ctx context.Context, action *models.OfflineAction) (*http.Request, error) {
	var body io.Reader
	if len(action.Body) > 0 {
		body = bytes.NewReader(action.Body)
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, action.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range action.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

func statusError(status int, body []byte) error {
	var problem struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}

	_ = json.Unmarshal(body, &problem)

	return &StatusError{StatusCode: status, Type: problem.Type, Detail: problem.Detail}
}
