package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the connection settings for one academy's API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Staff API key bound to the academy, "sk_..."
}

// DojoClient is a thin HTTP client for the academy's /v1 API.
type DojoClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewDojoClient creates a client.
func NewDojoClient(cfg Config) *DojoClient {
	return &DojoClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *DojoClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.APIURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.RawMessage(respBody), nil
}

// Overdue returns the overdue report: students, total and count.
func (c *DojoClient) Overdue(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/reports/overdue", nil, nil)
}

// Analysis returns the assistant's snapshot of the academy on date
// (YYYY-MM-DD, empty for today).
func (c *DojoClient) Analysis(ctx context.Context, date string) (json.RawMessage, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/assistant/analysis", q, nil)
}

// Students lists students, optionally only active ones.
func (c *DojoClient) Students(ctx context.Context, activeOnly bool) (json.RawMessage, error) {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/students", q, nil)
}

// Plans lists the academy's plans.
func (c *DojoClient) Plans(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/plans", nil, nil)
}

// Eligible lists students eligible for promotion on date.
func (c *DojoClient) Eligible(ctx context.Context, date string) (json.RawMessage, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/reports/eligible", q, nil)
}

// Ask sends a free-text question to the assistant.
func (c *DojoClient) Ask(ctx context.Context, question string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/assistant/ask", nil, map[string]string{"question": question})
}
