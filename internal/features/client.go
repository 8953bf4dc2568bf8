// Package features is a minimal client for the hosted feature-service
// platform holding the reach layers. It speaks the Esri-style REST dialect:
// token authentication, per-layer query, and applyEdits with adds/deletes.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to one feature service and hands out layer handles.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a feature-service client. Empty credentials mean
// anonymous access; otherwise tokens are fetched lazily and refreshed
// before expiry.
func NewClient(baseURL, username, password string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		logger:     logger,
	}
}

// Layer returns a handle for one layer of the service.
func (c *Client) Layer(id int) *Layer {
	return &Layer{client: c, id: id}
}

// apiError is the in-body error envelope the platform returns with a 200
// status.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("feature service error %d: %s", e.Code, e.Message)
}

type tokenResponse struct {
	Token   string    `json:"token"`
	Expires int64     `json:"expires"` // unix millis
	Error   *apiError `json:"error"`
}

// ensureToken fetches or refreshes the auth token when credentials are
// configured. Returns the current token, or empty for anonymous access.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if c.username == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{
		"username": {c.username},
		"password": {c.password},
		"client":   {"requestip"},
		"f":        {"json"},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, c.baseURL+"/generateToken", form, &resp); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("generate token: %w", resp.Error)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("generate token: empty token in response")
	}

	c.token = resp.Token
	c.tokenExpiry = time.UnixMilli(resp.Expires)
	c.logger.Debug("feature service token refreshed", "expires", c.tokenExpiry)
	return c.token, nil
}

// do posts a form to a layer endpoint, attaching the auth token, and decodes
// the JSON response into v.
func (c *Client) do(ctx context.Context, endpoint string, form url.Values, v any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		form.Set("token", token)
	}
	form.Set("f", "json")

	return c.postForm(ctx, endpoint, form, v)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feature service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("feature service error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
