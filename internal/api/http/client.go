package httpapi

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/engine"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to a running control server.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient returns a client for the server listening on addr. A bare
// host:port is treated as plain HTTP.
func NewClient(addr, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base == "" {
		base = defaultAddr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: defaultClientTimeout},
	}
}

// WithHTTPClient replaces the underlying transport client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// Launch starts product/app with params.
func (c *Client) Launch(ctx stdcontext.Context, product, app, params string) (engine.Outcome, error) {
	return c.outcome(ctx, http.MethodPost, appPath(product, app, "launch"), api.LaunchRequest{Params: params})
}

// Stop ends every instance of product/app.
func (c *Client) Stop(ctx stdcontext.Context, product, app string, force bool) (engine.Outcome, error) {
	return c.outcome(ctx, http.MethodPost, appPath(product, app, "stop"), api.StopRequest{Force: force})
}

// Query reports whether product/app is running.
func (c *Client) Query(ctx stdcontext.Context, product, app string) (engine.Outcome, error) {
	return c.outcome(ctx, http.MethodGet, appPath(product, app, ""), nil)
}

// ScheduleAtStartup persists a startup entry.
func (c *Client) ScheduleAtStartup(ctx stdcontext.Context, product, app, params string, oneShot bool) (engine.Outcome, error) {
	return c.outcome(ctx, http.MethodPost, appPath(product, app, "startup"), api.StartupRequest{Params: params, OneShot: oneShot})
}

// RemoveFromStartup deletes a startup entry.
func (c *Client) RemoveFromStartup(ctx stdcontext.Context, product, app string) (engine.Outcome, error) {
	return c.outcome(ctx, http.MethodDelete, appPath(product, app, "startup"), nil)
}

// SetLaunching toggles the launch gag.
func (c *Client) SetLaunching(ctx stdcontext.Context, enabled bool) (engine.Outcome, error) {
	path := "/api/v1/launching/disable"
	if enabled {
		path = "/api/v1/launching/enable"
	}
	return c.outcome(ctx, http.MethodPost, path, nil)
}

// Shutdown drains every tracked process and waits for completion.
func (c *Client) Shutdown(ctx stdcontext.Context) (*api.ShutdownResponse, error) {
	var out api.ShutdownResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/shutdown", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the current supervisor snapshot.
func (c *Client) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	var out api.StatusReport
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// outcome performs an operation whose body is an OutcomeResponse. Non-2xx
// statuses still carry an outcome and are not reported as errors.
func (c *Client) outcome(ctx stdcontext.Context, method, path string, body any) (engine.Outcome, error) {
	var out api.OutcomeResponse
	if _, err := c.do(ctx, method, path, body, &out); err != nil {
		return engine.LaunchFailed, err
	}
	return out.Outcome, nil
}

// APIError is returned for responses carrying an error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("control api: %s", e.Message)
}

var errEmptyResponse = errors.New("empty response body")

func (c *Client) do(ctx stdcontext.Context, method, path string, body, dst any) (int, error) {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(api.TokenHeader, c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, errEmptyResponse
	}

	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Code != "" {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func appPath(product, app, action string) string {
	path := appsPrefix + url.PathEscape(product) + "/" + url.PathEscape(app)
	if action != "" {
		path += "/" + action
	}
	return path
}
