// Package apiclient talks HTTPS to the job server: login and transparent
// bearer-token refresh, chunked multipart upload, streaming download, and
// every job/channel verb the server exposes.
package apiclient

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aschie4589/quantumhive-worker/internal/transfer"
)

const defaultUserAgent = "quantumhive-worker/1.0"

// Client is the authenticated HTTP client for the job server. It is safe
// for concurrent use; it serializes refreshes through refreshMu so
// concurrent callers see at most one in-flight refresh.
type Client struct {
	logger  *slog.Logger
	baseURL string

	httpClient *http.Client
	session    session

	refreshMu sync.Mutex // serializes concurrent refresh() calls

	statusMu sync.RWMutex
	status   string

	maxRequestSize int64
	chunkSize      int64

	limiter *transfer.Limiter
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithMaxRequestSize overrides the single-POST upload ceiling (default 50 MiB).
func WithMaxRequestSize(n int64) Option {
	return func(c *Client) { c.maxRequestSize = n }
}

// WithChunkSize overrides the download read chunk size (default 1 MiB).
func WithChunkSize(n int64) Option {
	return func(c *Client) { c.chunkSize = n }
}

// WithRateLimiter paces upload and download transfer through limiter
// instead of the unlimited default.
func WithRateLimiter(limiter *transfer.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// New builds a Client targeting baseURL, with a transport tuned for
// sustained artifact transfer.
func New(logger *slog.Logger, baseURL string, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	c := &Client{
		logger:         logger,
		baseURL:        baseURL,
		httpClient:     &http.Client{Transport: transport, Timeout: 60 * time.Second},
		maxRequestSize: 50 << 20,
		chunkSize:      1 << 20,
		status:         "idle",
		limiter:        transfer.NewLimiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the last advisory "action: outcome" string. Purely
// informational — it has no functional effect on subsequent calls.
func (c *Client) Status() string {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Client) setStatus(action string, err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if err != nil {
		c.status = action + ": " + err.Error()
	} else {
		c.status = action + ": ok"
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// withAuth wraps a non-auth call in the auth envelope: ping /auth/ping with
// the current access token; on 401 refresh and retry once; any other
// non-2xx from the ping fails fast without retry.
func (c *Client) withAuth(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if err := c.pingAuth(ctx); err != nil {
		if !isAuthErr(err) {
			return err
		}
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return newErr(KindAuth, op, refreshErr)
		}
		if err := c.pingAuth(ctx); err != nil {
			return newErr(KindAuth, op, err)
		}
	}

	err := call(ctx)
	c.setStatus(op, err)
	return err
}

func isAuthErr(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindAuth
}
