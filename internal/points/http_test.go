package points

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
	"github.com/utafrali/LoyaltyGo/pkg/httpclient"
)

func testClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:         2 * time.Second,
		MaxRetries:      0,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    time.Millisecond,
		MaxConnsPerHost: 4,
	})
}

func TestHTTPGateway_Earn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/points/earn", r.URL.Path)
		assert.Equal(t, "credit:v:c:cust:a", r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cust", body["customerId"])
		assert.Equal(t, float64(500), body["amount"])
		assert.NotContains(t, body, "IdempotencyKey")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	g := NewHTTPGateway(testClient(), server.URL+"/")
	err := g.Earn(context.Background(), Transfer{CustomerID: "cust", MerchantID: "m", Amount: 500, IdempotencyKey: "credit:v:c:cust:a"})
	require.NoError(t, err)
}

func TestHTTPGateway_Redeem_InsufficientBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/points/redeem", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"INSUFFICIENT_BALANCE","message":"balance 100 < 500"}}`))
	}))
	defer server.Close()

	g := NewHTTPGateway(testClient(), server.URL)
	err := g.Redeem(context.Background(), Transfer{CustomerID: "cust", Amount: 500})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "balance 100 < 500")
}

func TestHTTPGateway_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"INSUFFICIENT_BALANCE","message":"no"}}`))
	}))
	defer server.Close()

	err := NewHTTPGateway(testClient(), server.URL).Redeem(context.Background(), Transfer{Amount: 1})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestHTTPGateway_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewHTTPGateway(testClient(), server.URL).Earn(context.Background(), Transfer{Amount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBadGateway)
	assert.False(t, errors.Is(err, ErrInsufficientBalance))
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewHTTPGateway(testClient(), url).Earn(context.Background(), Transfer{Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call points-ledger /points/earn")
}
