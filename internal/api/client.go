package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API listening on addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/") + "/api/v1",
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Call sends method to path and returns the raw reply body. Replies outside
// 2xx are returned as *APIError.
func (c *Client) Call(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// State returns the capture state document.
func (c *Client) State(ctx context.Context) ([]byte, error) {
	return c.Call(ctx, http.MethodGet, "/capture/state", nil)
}

// Control posts one of "start", "stop" or "clear".
func (c *Client) Control(ctx context.Context, action string) ([]byte, error) {
	return c.Call(ctx, http.MethodPost, "/capture/"+action, nil)
}

// Packets lists stored packets matching expr.
func (c *Client) Packets(ctx context.Context, expr string) ([]byte, error) {
	var q url.Values
	if expr != "" {
		q = url.Values{"filter": {expr}}
	}
	return c.Call(ctx, http.MethodGet, "/packets", q)
}

// Reassemble asks for the datagram the fragment seq belongs to.
func (c *Client) Reassemble(ctx context.Context, seq uint64) ([]byte, error) {
	return c.Call(ctx, http.MethodGet, fmt.Sprintf("/packets/%d/reassemble", seq), nil)
}

// Export returns the capture log text.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	return c.Call(ctx, http.MethodGet, "/export", nil)
}

// Save has the daemon write the capture log under its export directory.
// path is relative to that directory; empty picks a timestamped name.
func (c *Client) Save(ctx context.Context, path string) ([]byte, error) {
	var q url.Values
	if path != "" {
		q = url.Values{"path": {path}}
	}
	return c.Call(ctx, http.MethodPost, "/export/save", q)
}

// Ping checks that the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.State(ctx)
	return err
}
