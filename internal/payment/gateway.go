// Package payment holds the adapters the booking engine charges through.
// Every Charge carries an idempotency key so a retried call charges once.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wtbooking/internal/config"
	"wtbooking/internal/domain"
	"wtbooking/internal/worker"

	"github.com/rs/zerolog"
)

// ErrUnavailable wraps transport-level gateway failures. The engine treats it
// as a payment failure; RetryingGateway retries it.
var ErrUnavailable = errors.New("payment gateway unavailable")

// IdempotencyKey is the key used for every charge attempt of one booking.
func IdempotencyKey(bookingID fmt.Stringer) string {
	return "pay-" + bookingID.String()
}

// SimulatedGateway approves charges up to ApproveLimitMinor (no limit when
// zero) and answers repeated keys with the first result.
type SimulatedGateway struct {
	approveLimitMinor int64
	mu                sync.Mutex
	results           map[string]bool
	calls             int
}

var _ domain.PaymentGateway = (*SimulatedGateway)(nil)

func NewSimulatedGateway(approveLimitMinor int64) *SimulatedGateway {
	return &SimulatedGateway{
		approveLimitMinor: approveLimitMinor,
		results:           make(map[string]bool),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, idempotencyKey string, amountMinor int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if approved, ok := g.results[idempotencyKey]; ok {
		return approved, nil
	}
	approved := amountMinor >= 0 && (g.approveLimitMinor <= 0 || amountMinor <= g.approveLimitMinor)
	g.results[idempotencyKey] = approved
	return approved, nil
}

// Calls returns how many Charge calls reached the gateway.
func (g *SimulatedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// RetryingGateway retries transport failures of the wrapped gateway with
// exponential backoff. Declines are answers, not failures, and are never
// retried.
type RetryingGateway struct {
	next   domain.PaymentGateway
	policy worker.RetryPolicy
	logger *zerolog.Logger
}

var _ domain.PaymentGateway = (*RetryingGateway)(nil)

func NewRetryingGateway(next domain.PaymentGateway, policy worker.RetryPolicy, logger *zerolog.Logger) *RetryingGateway {
	return &RetryingGateway{next: next, policy: policy, logger: logger}
}

func (g *RetryingGateway) Charge(ctx context.Context, idempotencyKey string, amountMinor int64) (bool, error) {
	var approved bool
	attempt := 0
	err := worker.Retry(ctx, g.policy, func(ctx context.Context) error {
		attempt++
		ok, err := g.next.Charge(ctx, idempotencyKey, amountMinor)
		if err != nil {
			g.logger.Warn().Err(err).Str("idempotency_key", idempotencyKey).Int("attempt", attempt).Msg("Payment attempt failed")
			if !errors.Is(err, ErrUnavailable) {
				return worker.Permanent(err)
			}
			return err
		}
		approved = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return approved, nil
}

// NewGateway builds the gateway selected by cfg.Payment.Mode, wrapped in
// retries when a retry budget is configured.
func NewGateway(cfg config.PaymentConfig, logger *zerolog.Logger) (domain.PaymentGateway, error) {
	var gw domain.PaymentGateway
	switch cfg.Mode {
	case config.PaymentModeSimulated, "":
		gw = NewSimulatedGateway(cfg.ApproveLimitMinor)
	case config.PaymentModeHTTP:
		gw = NewHTTPGateway(cfg.URL, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown payment mode %q", cfg.Mode)
	}

	if cfg.Retry.MaxRetries > 0 {
		gw = NewRetryingGateway(gw, worker.RetryPolicy{
			MaxRetries:    cfg.Retry.MaxRetries,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
		}, logger)
	}
	return gw, nil
}
