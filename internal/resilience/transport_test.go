package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/resilience"
)

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := calls.Add(1)
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(maxAttempts int) *http.Client {
	return &http.Client{Transport: &resilience.Transport{
		Target:      "test",
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
	}}
}

func TestTransportRetriesMarkedRequests(t *testing.T) {
	srv, calls := flakyServer(t, 2)

	ctx := resilience.Retryable(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)

	resp, err := newClient(3).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "payload", string(body))
	require.EqualValues(t, 3, calls.Load())
}

func TestTransportDoesNotRetryUnmarkedRequests(t *testing.T) {
	srv, calls := flakyServer(t, 2)

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("capture"))
	require.NoError(t, err)

	resp, err := newClient(3).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestTransportOpenBreakerRejects(t *testing.T) {
	srv, calls := flakyServer(t, 100)
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	client := &http.Client{Transport: &resilience.Transport{Breaker: breaker, Target: "open"}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.EqualValues(t, 1, calls.Load())
}
