package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// HTTPDoer describes the HTTP client used by HTTPClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient posts actions as JSON to the fleet REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	healthPath string
	client     HTTPDoer
}

// NewHTTPClient constructs a client with its own http.Client bounded by timeout.
func NewHTTPClient(baseURL, token, healthPath string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewHTTPClientWithDoer(baseURL, token, healthPath, &http.Client{Timeout: timeout})
}

// NewHTTPClientWithDoer constructs a client around an existing HTTP doer.
func NewHTTPClientWithDoer(baseURL, token, healthPath string, client HTTPDoer) *HTTPClient {
	if strings.TrimSpace(healthPath) == "" {
		healthPath = "/health"
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		healthPath: "/" + strings.TrimLeft(healthPath, "/"),
		client:     client,
	}
}

// Send posts payload to the route registered for actionType. Identical
// payloads are sent as independent requests; the API does not deduplicate.
func (c *HTTPClient) Send(ctx context.Context, actionType string, payload json.RawMessage) error {
	route, ok := routes[actionType]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, actionType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	endpoint := c.baseURL + "/" + route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", actionType, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Action-Type", actionType)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", actionType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("send %s: backend returned %d: %s", actionType, resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping issues a GET against the health path.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("backend health returned %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; HTTP connections are pooled by the client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "(empty body)"
	}
	return body
}
