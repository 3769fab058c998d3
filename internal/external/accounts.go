package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"paysched/internal/types"
)

// accountResponse is the accounts service payload. Only the subscription
// field matters here; iban is echoed back by the upstream.
type accountResponse struct {
	IBAN         string `json:"iban"`
	Subscription string `json:"subscription"`
}

// HTTPAccountsClient resolves an account's subscription tier from the
// accounts service. Lookups are read-only and idempotent, so the default
// retry policy applies.
type HTTPAccountsClient struct {
	base *BaseClient
	url  string
}

// NewHTTPAccountsClient creates an accounts client. The url may contain an
// "{accountId}" (or legacy "{iban}") placeholder; otherwise the account id
// is appended as a path segment.
func NewHTTPAccountsClient(httpClient *http.Client, url string, opts ...BaseClientOption) *HTTPAccountsClient {
	return &HTTPAccountsClient{
		base: NewBaseClient(httpClient, "accounts", DefaultRetryPolicy(), "paysched/1.0", opts...),
		url:  url,
	}
}

// accountURL expands the configured endpoint for one account id.
func (c *HTTPAccountsClient) accountURL(accountID string) string {
	switch {
	case strings.Contains(c.url, "{accountId}"):
		return strings.ReplaceAll(c.url, "{accountId}", accountID)
	case strings.Contains(c.url, "{iban}"):
		return strings.ReplaceAll(c.url, "{iban}", accountID)
	default:
		return strings.TrimRight(c.url, "/") + "/" + accountID
	}
}

// GetSubscription returns the subscription tier of the given account.
// Unknown tier names degrade to the basic tier rather than failing the call.
func (c *HTTPAccountsClient) GetSubscription(ctx context.Context, accountID string) (types.PlanTier, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL(accountID), nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build account request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	case resp.StatusCode >= 400:
		return "", types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("accounts service returned status %d", resp.StatusCode),
			nil,
		)
	}

	var account accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode account response", err)
	}

	return types.NormalizeTier(account.Subscription), nil
}
