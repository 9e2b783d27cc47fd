package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 2048

// Opts configures a Client.
type Opts struct {
	Resolver          string // host of the domain resolver
	Scheme            string // "https" unless testing
	ClientID          string
	ClientSecret      string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	DomainTTL         time.Duration
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	resolver     string
	scheme       string
	clientID     string
	clientSecret string
	http         *http.Client
	limiter      *rate.Limiter
	domains      *expirable.LRU[string, string]
	log          *zap.Logger
	metrics      *metrics.Metrics

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

var _ Gateway = (*Client)(nil)

// New creates a platform client.
func New(opts Opts) (*Client, error) {
	if opts.Resolver == "" {
		return nil, fmt.Errorf("platform: resolver is required")
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("platform: client credentials are required")
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 20
	}
	ttl := opts.DomainTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Client{
		resolver:     opts.Resolver,
		scheme:       scheme,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		http:         hc,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		domains:      expirable.NewLRU[string, string](1024, nil, ttl),
		log:          logging.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		tokens:       make(map[string]oauth2.TokenSource),
	}, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// headers are applied on top of the JSON content type.
func (c *Client) do(ctx context.Context, op, method, url string, headers map[string]string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObservePlatform(op, start, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("platform: %s: rate limiter: %w", op, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("platform: %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("platform: %s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: %s: decode: %w", op, err)
	}
	return nil
}

// serviceURL resolves the service host and joins path onto it.
func (c *Client) serviceURL(ctx context.Context, accountID, service, path string) (string, error) {
	domain, err := c.ResolveDomain(ctx, accountID, service)
	if err != nil {
		return "", err
	}
	if domain == "" {
		return "", fmt.Errorf("platform: no %s domain for account %s", service, accountID)
	}
	return fmt.Sprintf("%s://%s%s", c.scheme, domain, path), nil
}
