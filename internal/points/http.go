package points

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
	"github.com/utafrali/LoyaltyGo/pkg/httpclient"
)

const (
	serviceName          = "points-ledger"
	headerIdempotencyKey = "Idempotency-Key"
	codeInsufficient     = "INSUFFICIENT_BALANCE"
)

// HTTPGateway is a Gateway backed by the ledger's REST API.
type HTTPGateway struct {
	client  httpclient.Doer
	baseURL string
}

// NewHTTPGateway creates a gateway. client is usually a
// *httpclient.CircuitBreakerClient.
func NewHTTPGateway(client httpclient.Doer, baseURL string) *HTTPGateway {
	return &HTTPGateway{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Earn credits points to the customer.
func (g *HTTPGateway) Earn(ctx context.Context, t Transfer) error {
	return g.post(ctx, "/points/earn", t)
}

// Redeem debits points from the customer. A short balance is reported as
// ErrInsufficientBalance.
func (g *HTTPGateway) Redeem(ctx context.Context, t Transfer) error {
	return g.post(ctx, "/points/redeem", t)
}

func (g *HTTPGateway) post(ctx context.Context, path string, t Transfer) error {
	header := http.Header{}
	if t.IdempotencyKey != "" {
		header.Set(headerIdempotencyKey, t.IdempotencyKey)
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, g.baseURL+path, t, header)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", serviceName, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = resp.Body.Close()
		return nil
	}

	err = httpclient.ParseResponseError(resp, serviceName)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == codeInsufficient {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, appErr.Message)
	}
	return err
}
