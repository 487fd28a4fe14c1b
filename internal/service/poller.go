package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindbook/internal/gateway"
	"mindbook/internal/worker"

	"github.com/rs/zerolog"
)

// PollPolicy configures server-side polling of one booking attempt. It is a
// configuration object, not hard-coded control flow.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Retry       worker.RetryPolicy
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 120
	}
	if p.Retry.MaxRetries == 0 {
		p.Retry.MaxRetries = 3
	}
	return p
}

// ErrPollTimeout means the attempt did not resolve within the polling
// budget. The hold sweeper will release the slot.
var ErrPollTimeout = errors.New("payment did not resolve within the polling budget")

// Poller drives repeated PollPayment calls until the attempt resolves.
type Poller struct {
	service *BookingService
	policy  PollPolicy
	logger  *zerolog.Logger
}

func NewPoller(service *BookingService, policy PollPolicy, logger *zerolog.Logger) *Poller {
	return &Poller{
		service: service,
		policy:  policy.withDefaults(),
		logger:  logger,
	}
}

// PollUntilResolved polls at a fixed interval until the attempt confirms or
// fails. Transient gateway errors are retried with backoff up to a bound;
// any other error surfaces immediately.
func (p *Poller) PollUntilResolved(ctx context.Context, transactionRef string) (*BookingOutcome, error) {
	gatewayFailures := 0

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		outcome, err := p.service.PollPayment(ctx, transactionRef)
		if err != nil {
			var gwErr *gateway.GatewayError
			if !errors.As(err, &gwErr) {
				return nil, err
			}

			gatewayFailures++
			if gatewayFailures > p.policy.Retry.MaxRetries {
				return nil, fmt.Errorf("gateway unavailable after %d retries: %w", p.policy.Retry.MaxRetries, err)
			}

			p.logger.Warn().Err(err).
				Str("transaction_ref", transactionRef).
				Int("failure", gatewayFailures).
				Msg("Verify failed, backing off")

			if err := sleepCtx(ctx, p.policy.Retry.NextDelay(gatewayFailures)); err != nil {
				return nil, err
			}
			continue
		}

		gatewayFailures = 0
		if outcome.Status != OutcomePending {
			return outcome, nil
		}

		if err := sleepCtx(ctx, p.policy.Interval); err != nil {
			return nil, err
		}
	}

	return nil, ErrPollTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
