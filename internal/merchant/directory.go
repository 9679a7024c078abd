// Package merchant resolves merchant display names from the merchant
// directory service.
package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/LoyaltyGo/pkg/httpclient"
)

const serviceName = "merchant-directory"

// Directory looks up merchant display names.
type Directory interface {
	MerchantName(ctx context.Context, merchantID string) (string, error)
}

// HTTPDirectory is a Directory backed by GET /merchants/{id}.
type HTTPDirectory struct {
	client  httpclient.Doer
	baseURL string
}

// NewHTTPDirectory creates a directory client.
func NewHTTPDirectory(client httpclient.Doer, baseURL string) *HTTPDirectory {
	return &HTTPDirectory{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// MerchantName fetches the merchant and returns its name.
func (d *HTTPDirectory) MerchantName(ctx context.Context, merchantID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/merchants/"+url.PathEscape(merchantID), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create merchant request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", serviceName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpclient.ParseResponseError(resp, serviceName)
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode merchant response: %w", err)
	}
	return body.Data.Name, nil
}
