package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      retries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 10,
	}
}

// ledgerStub answers with statuses in order and then 200, counting calls.
func ledgerStub(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte(`{"balance":1500}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func getBalance(ctx context.Context, t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/accounts/c1/balance", nil)
	require.NoError(t, err)
	return c.Do(ctx, req)
}

func TestDo_RetriesTransient5xx(t *testing.T) {
	server, calls := ledgerStub(t, http.StatusServiceUnavailable, http.StatusBadGateway)

	resp, err := getBalance(context.Background(), t, New(fastConfig(3)), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"balance":1500}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ReturnsLastResponseWhenRetriesRunOut(t *testing.T) {
	server, calls := ledgerStub(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	resp, err := getBalance(context.Background(), t, New(fastConfig(1)), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_RetriedPostResendsBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":500}`, string(body))
		assert.Equal(t, "credit:v1:c1:u1:a1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := NewJSONRequest(context.Background(), http.MethodPost, server.URL,
		map[string]int{"amount": 500},
		http.Header{"Idempotency-Key": []string{"credit:v1:c1:u1:a1"}})
	require.NoError(t, err)

	resp, err := New(fastConfig(2)).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_UnrewindableBodyIsSentOnce(t *testing.T) {
	server, calls := ledgerStub(t, http.StatusServiceUnavailable)

	req, err := http.NewRequest(http.MethodPost, server.URL, io.NopCloser(strings.NewReader(`{"amount":1}`)))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := New(fastConfig(3)).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_NoRetryOn4xxOr501(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusNotImplemented} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server, calls := ledgerStub(t, status)

			resp, err := getBalance(context.Background(), t, New(fastConfig(3)), server.URL)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDo_StopsWaitingWhenContextEnds(t *testing.T) {
	server, _ := ledgerStub(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	cfg := fastConfig(10)
	cfg.RetryWaitMin = time.Second
	cfg.RetryWaitMax = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := getBalance(ctx, t, New(cfg), server.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBackoff_DoublesUpToMax(t *testing.T) {
	c := New(Config{RetryWaitMin: 100 * time.Millisecond, RetryWaitMax: 300 * time.Millisecond})

	within := func(d, base time.Duration) {
		assert.GreaterOrEqual(t, d, base*3/4)
		assert.LessOrEqual(t, d, base*5/4)
	}
	within(c.backoff(1), 100*time.Millisecond)
	within(c.backoff(2), 200*time.Millisecond)
	within(c.backoff(3), 300*time.Millisecond)
	within(c.backoff(60), 300*time.Millisecond)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(http.StatusInternalServerError))
	assert.True(t, retryableStatus(http.StatusGatewayTimeout))
	assert.False(t, retryableStatus(http.StatusNotImplemented))
	assert.False(t, retryableStatus(http.StatusTooManyRequests))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.True(t, isRetryableError(context.DeadlineExceeded))
}

func TestAddJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := addJitter(time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), addJitter(0))
}
