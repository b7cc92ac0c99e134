// Package remote is the HTTP client for the recipe service.
//
// Every call is a single JSON request/response. Non-success statuses
// are returned as *StatusError so callers can tell a rejection (4xx)
// from an outage (5xx, transport errors).
package remote

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
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/recetario/internal/recipe"
)

// TokenSource supplies the bearer token sent with each request. An empty
// token sends no Authorization header.
type TokenSource interface {
	Token() string
}

// StatusError is returned when the service answers with an unexpected
// HTTP status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Client talks to the recipe service.
//
// Thread-safety: All methods are safe for concurrent use.
type Client struct {
	base    string // no trailing slash
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (default: 15s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.tokens = ts }
}

// WithRateLimit paces outbound requests. The default is unlimited.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(r, burst) }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(baseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create posts a new recipe and returns the stored record. The id is
// taken from "_id", falling back to "id".
func (c *Client) Create(ctx context.Context, p recipe.Payload) (recipe.Recipe, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/recipes", nil, p, &raw, http.StatusOK, http.StatusCreated); err != nil {
		return recipe.Recipe{}, err
	}

	var created recipe.Recipe
	if err := json.Unmarshal(raw, &created); err != nil {
		return recipe.Recipe{}, fmt.Errorf("decode created recipe: %w", err)
	}
	if created.ID == "" {
		var alt struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &alt); err == nil {
			created.ID = alt.ID
		}
	}
	if created.Name == "" {
		created.Payload = p
	}
	return created, nil
}

// Update replaces the recipe with the given server id.
func (c *Client) Update(ctx context.Context, id string, p recipe.Payload) error {
	return c.do(ctx, http.MethodPut, "/recipes/"+url.PathEscape(id), nil, p, nil, http.StatusOK, http.StatusCreated)
}

// ListByUser returns the confirmed recipes of a user.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	var out []recipe.Recipe
	if err := c.do(ctx, http.MethodGet, "/recipes/user/"+url.PathEscape(userID), nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out == nil {
		out = []recipe.Recipe{}
	}
	return out, nil
}

// Get fetches one recipe.
func (c *Client) Get(ctx context.Context, id string) (recipe.Recipe, error) {
	var out recipe.Recipe
	if err := c.do(ctx, http.MethodGet, "/recipes/"+url.PathEscape(id), nil, nil, &out, http.StatusOK); err != nil {
		return recipe.Recipe{}, err
	}
	return out, nil
}

// Featured lists recipes for the landing page. Zero limit and empty sort
// leave the choice to the server.
func (c *Client) Featured(ctx context.Context, limit int, sort string) ([]recipe.Recipe, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	var out []recipe.Recipe
	if err := c.do(ctx, http.MethodGet, "/recipes", q, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out == nil {
		out = []recipe.Recipe{}
	}
	return out, nil
}

// FilterByCategory lists recipes tagged with category.
func (c *Client) FilterByCategory(ctx context.Context, category string) ([]recipe.Recipe, error) {
	q := url.Values{"category": {category}}
	var out []recipe.Recipe
	if err := c.do(ctx, http.MethodGet, "/recipes/filter", q, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out == nil {
		out = []recipe.Recipe{}
	}
	return out, nil
}

// Delete removes a recipe. Any 2xx status is success.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/recipes/"+url.PathEscape(id), nil, nil, nil)
}

// do performs one request. With no accepted codes listed, any 2xx is
// accepted. out may be nil to discard the body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, accept ...int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("recipe service call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if !accepted(resp.StatusCode, accept) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func accepted(code int, accept []int) bool {
	if len(accept) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}
