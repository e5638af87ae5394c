// Package payment wraps the hosted checkout provider used for card reward
// payouts. The provider renders the checkout page and calls back into the
// service on confirmation; this package only creates sessions.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrProvider marks checkout session failures. The recovery stays in its
// current status and the call is safe to retry.
var ErrProvider = errors.New("payment provider error")

type CheckoutRequest struct {
	RecoveryEventID uuid.UUID `json:"recovery_event_id"`
	AmountCents     int       `json:"amount_cents"`
	PayeeID         string    `json:"payee_id"`
}

type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// HTTPProvider talks to the provider's session endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPProvider(baseURL, apiKey string, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *HTTPProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		p.logger.Warn("checkout session rejected",
			zap.String("recovery_event_id", req.RecoveryEventID.String()),
			zap.Int("status_code", resp.StatusCode))
		return "", fmt.Errorf("%w: unexpected status %d", ErrProvider, resp.StatusCode)
	}

	var session struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	if session.CheckoutURL == "" {
		return "", fmt.Errorf("%w: empty checkout_url", ErrProvider)
	}
	return session.CheckoutURL, nil
}
