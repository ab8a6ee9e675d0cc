package provider

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RetryAfterTransport is an http.RoundTripper that records the server's
// retry hint on throttled or unavailable responses. The hint is written to
// the RetryHint carried by the request context, if any, because client
// libraries do not expose response headers on their error types.
type RetryAfterTransport struct {
	inner http.RoundTripper
}

// NewRetryAfterTransport wraps inner. If inner is nil, http.DefaultTransport
// is used.
func NewRetryAfterTransport(inner http.RoundTripper) *RetryAfterTransport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &RetryAfterTransport{inner: inner}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return resp, nil
	}
	if hint, ok := req.Context().Value(retryHintKey{}).(*RetryHint); ok {
		if d, ok := parseRetryAfter(resp.Header, time.Now()); ok {
			hint.set(d)
		}
	}
	return resp, nil
}

type retryHintKey struct{}

// RetryHint holds the delay a provider asked for on its last response.
type RetryHint struct {
	mu    sync.Mutex
	delay time.Duration
}

// WithRetryHint returns a context that collects retry hints for requests
// made with it.
func WithRetryHint(ctx context.Context) (context.Context, *RetryHint) {
	hint := &RetryHint{}
	return context.WithValue(ctx, retryHintKey{}, hint), hint
}

// Delay returns the recorded delay, or zero.
func (h *RetryHint) Delay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delay
}

func (h *RetryHint) set(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
}

// parseRetryAfter reads retry-after-ms, then Retry-After as seconds or an
// HTTP date.
func parseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if v := header.Get("Retry-After-Ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
