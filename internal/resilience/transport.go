package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

type retryableKey struct{}

// Retryable marks outbound calls made with ctx as safe to repeat. Only
// calls that cannot move money twice (token exchange, order creation)
// should carry the mark.
func Retryable(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryableKey{}, true)
}

// IsRetryable reports whether ctx was marked with Retryable.
func IsRetryable(ctx context.Context) bool {
	v, _ := ctx.Value(retryableKey{}).(bool)
	return v
}

// Transport is an http.RoundTripper that guards a provider with a breaker
// and retries transient failures for requests marked Retryable.
type Transport struct {
	Base        http.RoundTripper
	Breaker     *Breaker
	Target      string
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()
	attempts := 1
	if IsRetryable(ctx) && t.MaxAttempts > 1 {
		attempts = t.MaxAttempts
	}

	var body []byte
	if attempts > 1 {
		var err error
		if body, err = replayableBody(req); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if t.Breaker != nil && !t.Breaker.Allow(ctx) {
			OutboundAttempts.WithLabelValues(t.target(), "circuit_open").Inc()
			return nil, ErrOpenCircuit
		}
		attemptReq := req
		if attempt > 1 {
			attemptReq = req.Clone(ctx)
			if body != nil {
				attemptReq.Body = io.NopCloser(bytes.NewReader(body))
			}
		}

		resp, err := base.RoundTrip(attemptReq)
		transient := err != nil || resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		if t.Breaker != nil {
			// provider rejections (4xx) mean the provider is healthy
			t.Breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
		}
		if !transient || attempt == attempts {
			OutboundAttempts.WithLabelValues(t.target(), attemptResult(resp, err)).Inc()
			return resp, err
		}
		OutboundAttempts.WithLabelValues(t.target(), "retry").Inc()
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New(resp.Status)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		timer := time.NewTimer(Backoff(t.BaseBackoff, attempt, t.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (t *Transport) target() string {
	if t.Target == "" {
		return "default"
	}
	return t.Target
}

func attemptResult(resp *http.Response, err error) string {
	switch {
	case err != nil:
		return "error"
	case resp.StatusCode >= http.StatusInternalServerError:
		return "5xx"
	case resp.StatusCode >= http.StatusBadRequest:
		return "4xx"
	default:
		return "ok"
	}
}

func replayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
