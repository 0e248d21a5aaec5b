package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wtbooking/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

type chargeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	AmountMinor    int64  `json:"amount_minor"`
}

type chargeResponse struct {
	Approved bool `json:"approved"`
}

// HTTPGateway charges through a remote JSON endpoint. A 2xx answer carries the
// decision; 402 is a decline; anything else is ErrUnavailable.
type HTTPGateway struct {
	url    string
	apiKey string
	client *http.Client
}

var _ domain.PaymentGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(url, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, idempotencyKey string, amountMinor int64) (bool, error) {
	body, err := json.Marshal(chargeRequest{IdempotencyKey: idempotencyKey, AmountMinor: amountMinor})
	if err != nil {
		return false, fmt.Errorf("marshal charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, idempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out chargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return out.Approved, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}
}
