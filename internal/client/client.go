// Package client talks to the storefront backend over HTTP/JSON and turns
// every failure into a classified *domain.Error.
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

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	maxResponseBody        = 1 << 20 // 1MB
)

type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8082/api/v1
	BaseURL string
	// Timeout bounds a single request; zero leaves requests unbounded.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive transport failures that
	// opens the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type response struct {
	status int
	body   []byte
}

// errorBody is the {success:false, message} shape every failing endpoint returns.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = defaultBreakerCooldown
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{Transport: otelhttp.NewTransport(base)},
		logger:  logger,
		metrics: m,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "storefront-api",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Products calls GET /products.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.do(ctx, "get_products", http.MethodGet, "/products", "", nil, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

// Search calls GET /products/search?value=<query>. A 404 comes back as a
// ServerRejected error with Status 404.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Product, error) {
	path := "/products/search?" + url.Values{"value": {query}}.Encode()
	var products []domain.Product
	if err := c.do(ctx, "search_products", http.MethodGet, path, "", nil, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

// Cart calls GET /cart with the bearer token.
func (c *Client) Cart(ctx context.Context, token string) ([]domain.CartEntry, error) {
	var entries []domain.CartEntry
	if err := c.do(ctx, "get_cart", http.MethodGet, "/cart", token, nil, &entries); err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

// UpsertCart calls POST /cart and returns the full updated cart. A quantity of
// zero asks the server to remove the line.
func (c *Client) UpsertCart(ctx context.Context, token string, entry domain.CartEntry) ([]domain.CartEntry, error) {
	var entries []domain.CartEntry
	if err := c.do(ctx, "upsert_cart", http.MethodPost, "/cart", token, entry, &entries); err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success  bool        `json:"success"`
	Token    string      `json:"token"`
	Username string      `json:"username"`
	Balance  json.Number `json:"balance"`
}

// Login calls POST /auth/login.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	req := LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, call, method, path, token string, in, out any) (err error) {
	defer func() { c.metrics.ObserveCall(call, err) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		payload, errMarshal := json.Marshal(in)
		if errMarshal != nil {
			return &domain.Error{Kind: domain.ErrValidation, Err: fmt.Errorf("marshal request failed: %w", errMarshal)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &domain.Error{Kind: domain.ErrUnreachable, Err: fmt.Errorf("build request failed: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	res, err := c.breaker.Execute(func() (*response, error) {
		httpRes, errDo := c.http.Do(req)
		if errDo != nil {
			return nil, errDo
		}
		defer httpRes.Body.Close()
		data, errRead := io.ReadAll(io.LimitReader(httpRes.Body, maxResponseBody))
		if errRead != nil {
			return nil, fmt.Errorf("read response failed: %w", errRead)
		}
		return &response{status: httpRes.StatusCode, body: data}, nil
	})
	if err != nil {
		c.logger.DebugContext(ctx, "remote call failed", "call", call, "request_id", requestID, "error", err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &domain.Error{Kind: domain.ErrUnreachable, Err: fmt.Errorf("%s: %w", call, err)}
		}
		return &domain.Error{Kind: domain.ErrUnreachable, Err: fmt.Errorf("%s request failed: %w", call, err)}
	}

	c.logger.DebugContext(ctx, "remote call done", "call", call, "request_id", requestID, "status", res.status)

	if res.status >= http.StatusBadRequest {
		return classify(res)
	}

	if out != nil {
		if errDecode := json.Unmarshal(res.body, out); errDecode != nil {
			return &domain.Error{Kind: domain.ErrUnreachable, Status: res.status, Err: fmt.Errorf("decode %s response failed: %w", call, errDecode)}
		}
	}
	return nil
}

// classify turns a 4xx/5xx answer into a domain error carrying the server's
// message when the body has one.
func classify(res *response) *domain.Error {
	var eb errorBody
	_ = json.Unmarshal(res.body, &eb)

	kind := domain.ErrServerRejected
	if res.status >= http.StatusInternalServerError {
		kind = domain.ErrServerFault
	}
	return &domain.Error{Kind: kind, Status: res.status, Message: eb.Message}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
