// Package arenaclient talks to an arena server: REST reads over fasthttp and
// the real-time socket over nhooyr websocket.
package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

// HeaderProvider supplies per-request headers (Authorization, X-User-Id).
type HeaderProvider func() map[string]string

// APIError is a non-2xx answer decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("arena api: status=%d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("arena api: status=%d code=%s %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the transport dialer; tests use an in-memory listener.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/health", nil, true)
}

func (c *Client) ActiveGames(ctx context.Context) ([]arenadto.GameView, error) {
	var out []arenadto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/active", &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) History(ctx context.Context) ([]arenadto.GameView, error) {
	var out []arenadto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/history", &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Game(ctx context.Context, id string) (*arenadto.GameView, error) {
	var out arenadto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/"+url.PathEscape(id), &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resign is not retried: a replay after a lost response would hit a finished game.
func (c *Client) Resign(ctx context.Context, id string) (*arenadto.GameView, error) {
	var out arenadto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+url.PathEscape(id)+"/resign", &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingInvitation returns nil when nothing is pending.
func (c *Client) PendingInvitation(ctx context.Context) (*arenadto.InvitationEvent, error) {
	var out arenadto.InvitationEvent
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/invitations/pending", &out, true); err != nil {
		return nil, err
	}
	if out.FromUsername == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) LobbyUsers(ctx context.Context) ([]string, error) {
	var out arenadto.LobbyUsers
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/lobby/users", &out, true); err != nil {
		return nil, err
	}
	return out.Usernames, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := decodeAPIError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var b struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &b) == nil {
		e.Code, e.Message = b.Error, b.Message
	} else {
		e.Message = truncate(string(body), 512)
	}
	return e
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDuration: 100ms, 200ms, 400ms ... capped at 3.2s.
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
