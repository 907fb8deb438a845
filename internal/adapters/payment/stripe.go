// Package payment issues refunds through Stripe.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"geoaudit/internal/ports"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	SecretKey string
	// BaseURL overrides the Stripe API host, for tests and proxies.
	BaseURL    string
	HTTPClient *http.Client
}

type Stripe struct {
	api *client.API
}

func NewStripe(opts Options) (*Stripe, error) {
	key := strings.TrimSpace(opts.SecretKey)
	if key == "" {
		return nil, errors.New("payment: stripe secret key is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	cfg := &stripe.BackendConfig{
		HTTPClient: hc,
		// failed refunds are retried by the job queue
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	return &Stripe{api: client.New(key, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})}, nil
}

// Refund refunds the full amount of paymentIntentID. The idempotency key is
// derived from the intent so a repeated compensation yields the same refund.
func (s *Stripe) Refund(ctx context.Context, paymentIntentID string) (ports.Refund, error) {
	if paymentIntentID == "" {
		return ports.Refund{}, errors.New("payment: payment intent id is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("audit-refund-" + paymentIntentID)

	out, err := s.api.Refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return ports.Refund{}, fmt.Errorf("payment: stripe %d %s: %s", stripeErr.HTTPStatusCode, stripeErr.Code, stripeErr.Msg)
		}
		return ports.Refund{}, fmt.Errorf("payment: refund request: %w", err)
	}
	if out.ID == "" {
		return ports.Refund{}, errors.New("payment: refund response carries no id")
	}
	if out.Status == stripe.RefundStatusFailed || out.Status == stripe.RefundStatusCanceled {
		return ports.Refund{}, fmt.Errorf("payment: refund %s is %s", out.ID, out.Status)
	}
	return ports.Refund{ID: out.ID, Status: string(out.Status), Amount: out.Amount}, nil
}

var _ ports.Payment = (*Stripe)(nil)
