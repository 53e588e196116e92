// Package panel is the HTTP client for the test panel API. Every call takes
// a context, authenticates with the panel API key, and degrades to cached
// data where the operation allows it, so the rest of the client keeps
// working while the panel is unreachable.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/panelsync/panelsync/cache"
	"github.com/panelsync/panelsync/config"
)

// ErrUnreachable wraps transport-level failures: DNS, refused connections,
// timeouts. Distinct from the panel answering with an error, which callers
// must not retry blindly.
var ErrUnreachable = errors.New("could not connect to API")

// ErrCachedData marks a result served from the local cache because the
// panel was unreachable. The accompanying data is valid but stale; callers
// that can work with stale data should treat this as a warning, not a
// failure.
var ErrCachedData = errors.New("Using cached data (offline)")

// ErrNoCachedData means the panel was unreachable and nothing suitable was
// cached from earlier runs.
var ErrNoCachedData = errors.New("No cached data available")

// RequestError is an HTTP-level rejection from the panel.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// statusMessage maps HTTP status codes to the user-facing diagnostics the
// panel ecosystem has always shown. These strings are load-bearing: support
// docs and tester muscle memory reference them.
func statusMessage(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "Authentication failed - check API key"
	case code == http.StatusForbidden:
		return "Access denied"
	case code == http.StatusNotFound:
		return "API endpoint not found - check API URL"
	case code >= 500:
		return fmt.Sprintf("Server error (HTTP %d)", code)
	default:
		return fmt.Sprintf("HTTP %d", code)
	}
}

// Client talks to the panel API. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger
	cache   *cache.Store

	mu        sync.Mutex
	online    bool
	callbacks []func(bool)
	drain     func()
}

// New builds a client from config, backed by the given cache store.
func New(cfg *config.Config, store *cache.Store, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.RequestTimeout(),
		http:    &http.Client{},
		logger:  logger,
		cache:   store,
	}
}

// Online returns the last observed connectivity state.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// OnOnlineChange registers a callback fired whenever connectivity flips.
// Callbacks run outside the client's lock, on the goroutine that observed
// the transition.
func (c *Client) OnOnlineChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// SetDrainHook registers the function invoked on an offline-to-online
// transition, before the change callbacks. The submission pipeline hangs
// its queue drain here.
func (c *Client) SetDrainHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain = fn
}

// setOnline records a connectivity observation and, on a transition, runs
// the drain hook and change callbacks.
func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	drain := c.drain
	callbacks := append([]func(bool){}, c.callbacks...)
	c.mu.Unlock()

	c.cache.SetOnline(online)
	if was == online {
		return
	}

	if online {
		c.logger.Info().Msg("Connection restored - now online")
		if drain != nil {
			drain()
		}
	} else {
		c.logger.Warn().Msg("Connection lost - now offline")
	}
	for _, fn := range callbacks {
		fn(online)
	}
}

// response is a completed panel exchange. Callers apply their own
// per-endpoint status rules.
type response struct {
	status int
	body   []byte
}

// decode parses the body, tolerating nothing: callers that accept empty or
// malformed bodies check first.
func (r *response) decode(v any) error {
	return json.Unmarshal(r.body, v)
}

func (r *response) empty() bool {
	return len(bytes.TrimSpace(r.body)) == 0
}

// errorField extracts the conventional {"error": "..."} body field, falling
// back to the status diagnostic.
func (r *response) errorField() string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return statusMessage(r.status)
}

// request performs one authenticated exchange. Transport failures come back
// wrapped in ErrUnreachable; any HTTP response, error status included, is
// returned for the caller to interpret.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body any) (*response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	reqCtx := ctx
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return &response{status: resp.StatusCode, body: payload}, nil
}

// TestConnection probes the panel. A 401 still counts as reachable: the
// panel answered, the key is just wrong.
func (c *Client) TestConnection(ctx context.Context) bool {
	resp, err := c.request(ctx, http.MethodGet, "/api/retests.php", nil, nil)
	if err != nil {
		return false
	}
	return resp.status == http.StatusOK || resp.status == http.StatusUnauthorized
}
