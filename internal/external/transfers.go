package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"paysched/internal/types"
)

// HTTPTransferClient executes money transfers against the bank's transfers
// service. It deliberately carries a no-retry policy: a transfer that may
// have reached the upstream must never be replayed within the same attempt,
// and a failed due payment is picked up again by a later scan.
type HTTPTransferClient struct {
	base *BaseClient
	url  string
}

// NewHTTPTransferClient creates a transfer client posting to the given
// endpoint.
func NewHTTPTransferClient(httpClient *http.Client, url string, opts ...BaseClientOption) *HTTPTransferClient {
	return &HTTPTransferClient{
		base: NewBaseClient(httpClient, "transfers", NoRetryPolicy(), "paysched/1.0", opts...),
		url:  url,
	}
}

// Execute submits one transfer. The authToken, when present, is forwarded
// verbatim in the Authorization header so the upstream can attribute the
// transfer to the account holder that scheduled it. Any non-2xx response is
// a failure.
func (c *HTTPTransferClient) Execute(ctx context.Context, transfer types.TransferRequest, authToken string) error {
	payload, err := json.Marshal(transfer)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode transfer request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build transfer request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", authToken)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("transfer service rejected request with status %d", resp.StatusCode),
			nil,
		)
	}
	return nil
}
