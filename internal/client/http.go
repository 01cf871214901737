package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/history"
	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/presence"
	"github.com/alfredjeanlab/lambdaq/internal/store"
)

const runtimePrefix = "/2018-06-01/runtime"

// HTTPClient implements QueueClient against the runtime and management
// HTTP APIs.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ QueueClient = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given base URL
// (e.g. "http://localhost:9001").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Enqueue(ctx context.Context, payload string) (*model.Event, error) {
	var ev model.Event
	if err := c.do(ctx, http.MethodPost, "/v1/events", strings.NewReader(payload), nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Next long-polls the runtime API. The server's poll timeout bounds the
// wait; ErrNoEvent means it elapsed.
func (c *HTTPClient) Next(ctx context.Context) (*model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+runtimePrefix+"/invocation/next", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoEvent
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, body)
	}
	return &model.Event{
		ID:          resp.Header.Get("Lambda-Runtime-Aws-Request-Id"),
		Payload:     string(body),
		Status:      model.StatusExecuting,
		FunctionARN: resp.Header.Get("Lambda-Runtime-Invoked-Function-Arn"),
	}, nil
}

func (c *HTTPClient) ReportSuccess(ctx context.Context, id, response string) error {
	path := runtimePrefix + "/invocation/" + url.PathEscape(id) + "/response"
	return c.do(ctx, http.MethodPost, path, strings.NewReader(response), nil, nil)
}

func (c *HTTPClient) ReportError(ctx context.Context, id, errorType, errorBody string) error {
	path := runtimePrefix + "/invocation/" + url.PathEscape(id) + "/error"
	var headers map[string]string
	if errorType != "" {
		headers = map[string]string{"Lambda-Runtime-Function-Error-Type": errorType}
	}
	return c.do(ctx, http.MethodPost, path, strings.NewReader(errorBody), headers, nil)
}

func (c *HTTPClient) ListPending(ctx context.Context) ([]model.Event, error) {
	var evs []model.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events/pending", nil, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func (c *HTTPClient) ListCompleted(ctx context.Context) ([]model.Event, error) {
	var evs []model.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events/completed", nil, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// Active returns the executing event, or nil if the slot is empty.
func (c *HTTPClient) Active(ctx context.Context) (*model.Event, error) {
	var ev model.Event
	err := c.do(ctx, http.MethodGet, "/v1/events/active", nil, nil, &ev)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) Get(ctx context.Context, id string) (*model.Event, error) {
	var ev model.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(id), nil, nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) Summary(ctx context.Context) (*store.Summary, error) {
	var sum store.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/summary", nil, nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// History lists finished invocations, newest first.
func (c *HTTPClient) History(ctx context.Context, sessionID string, limit int) ([]*history.Record, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var recs []*history.Record
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Runtimes lists runtime clients seen by the server. Clients idle longer
// than stale are omitted; 0 returns all of them.
func (c *HTTPClient) Runtimes(ctx context.Context, stale time.Duration) ([]presence.Entry, error) {
	path := "/v1/runtimes"
	if stale > 0 {
		path += "?stale=" + url.QueryEscape(stale.String())
	}
	var entries []presence.Entry
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/events/"+url.PathEscape(id), nil, nil, nil)
}

func (c *HTTPClient) ClearPending(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/events/pending", nil, nil, nil)
}

func (c *HTTPClient) ClearCompleted(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/events/completed", nil, nil, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Type       string // runtime API errorType, if any
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// apiError decodes either error shape the server produces.
func apiError(code int, body []byte) *APIError {
	var errResp struct {
		Error        string `json:"error"`
		ErrorType    string `json:"errorType"`
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error != "":
			return &APIError{StatusCode: code, Message: errResp.Error}
		case errResp.ErrorMessage != "":
			return &APIError{StatusCode: code, Type: errResp.ErrorType, Message: errResp.ErrorMessage}
		}
	}
	return &APIError{StatusCode: code, Message: string(bytes.TrimSpace(body))}
}

// do performs a request with a raw body and decodes a JSON response into
// result. If result is nil, the response body is discarded.
func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
