// file: internal/provider/httpdoer.go
// version: 1.0.0
// guid: 2e9b5f73-8a1c-4d06-b3e7-6f0a4c8d2b15

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdfalk/ebook-organizer/internal/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	userAgent             = "ebook-organizer/1.0"
	maxErrorBody          = 4096
)

// httpDoer is the request path shared by the HTTP adapters: it applies the
// provider's rate limit and a per-call timeout and maps HTTP failures onto
// the provider error taxonomy.
type httpDoer struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
}

// newHTTPDoer wraps an already authenticated client. rps <= 0 disables
// limiting; timeout <= 0 uses the default.
func newHTTPDoer(provider string, client *http.Client, rps float64, timeout time.Duration) *httpDoer {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &httpDoer{
		provider: provider,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  timeout,
	}
}

// cancelOnClose releases the per-call context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// get issues a GET and returns the response of a 2xx reply. The body must
// be closed by the caller.
func (d *httpDoer) get(ctx context.Context, op, url string) (*http.Response, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.count("network_error")
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.count("ok")
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	defer cancel()
	defer resp.Body.Close()
	return nil, d.classify(op, resp)
}

// getJSON GETs url and decodes the JSON reply into out.
func (d *httpDoer) getJSON(ctx context.Context, op, url string, out any) error {
	resp, err := d.get(ctx, op, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// classify maps a non-2xx response onto the provider error taxonomy.
func (d *httpDoer) classify(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		d.count("auth_expired")
		return fmt.Errorf("%s: %w", op, ErrAuthExpired)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && isRateLimitBody(body):
		d.count("rate_limited")
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusNotFound:
		d.count("not_found")
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode == http.StatusGone:
		d.count("cursor_expired")
		return fmt.Errorf("%s: %w", op, ErrCursorExpired)
	case resp.StatusCode >= 500:
		d.count("network_error")
		return &NetworkError{Op: op, Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
	d.count("error")
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (d *httpDoer) count(outcome string) {
	metrics.IncProviderRequest(d.provider, outcome)
}

// isRateLimitBody recognizes Google's 403 quota errors.
func isRateLimitBody(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "rateLimitExceeded") || strings.Contains(s, "userRateLimitExceeded")
}

// parseRetryAfter reads delay-seconds or an HTTP date. Unparseable or past
// values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// bearerTransport adds a static bearer token to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

// BearerClient returns a client that authenticates with a static access
// token. Token refresh is the caller's concern.
func BearerClient(token string) (*http.Client, error) {
	if token == "" {
		return nil, errors.New("missing access token")
	}
	return &http.Client{Transport: &bearerTransport{token: token, base: http.DefaultTransport}}, nil
}
