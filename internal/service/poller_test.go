package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"mindbook/internal/events"
	"mindbook/internal/gateway"
	"mindbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifyStep struct {
	outcome *gateway.VerificationOutcome
	err     error
}

// scriptedGateway replays a fixed sequence of verify responses, repeating
// the last one when the script runs out.
type scriptedGateway struct {
	fakeGateway
	mu    sync.Mutex
	steps []verifyStep
	pos   int
}

func (g *scriptedGateway) Verify(ctx context.Context, transactionRef string) (*gateway.VerificationOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.steps) == 0 {
		return &gateway.VerificationOutcome{Status: gateway.VerifyPending}, nil
	}
	step := g.steps[g.pos]
	if g.pos < len(g.steps)-1 {
		g.pos++
	}
	return step.outcome, step.err
}

func newPollerEnv(t *testing.T, steps []verifyStep, policy PollPolicy) (*Poller, string) {
	t.Helper()
	env := newTestEnv(t)
	gw := &scriptedGateway{steps: steps}

	logger := zerolog.New(io.Discard)
	svc := NewBookingService(env.db, gw, env.meetings, nil, events.NewEventBus(), 15*time.Minute, 24*time.Hour, &logger)

	start, err := svc.StartBooking(context.Background(), "client-1", env.slot.ID)
	require.NoError(t, err)

	return NewPoller(svc, policy, &logger), start.TransactionRef
}

func fastPolicy() PollPolicy {
	return PollPolicy{
		Interval:    time.Millisecond,
		MaxAttempts: 10,
		Retry: worker.RetryPolicy{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		},
	}
}

func TestPollUntilResolvedConfirms(t *testing.T) {
	completed := &gateway.VerificationOutcome{Status: gateway.VerifyCompleted, Amount: 500000, Currency: "NGN"}
	poller, ref := newPollerEnv(t, []verifyStep{
		{outcome: &gateway.VerificationOutcome{Status: gateway.VerifyPending}},
		{outcome: &gateway.VerificationOutcome{Status: gateway.VerifyPending}},
		{outcome: completed},
	}, fastPolicy())

	outcome, err := poller.PollUntilResolved(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome.Status)
	assert.NotEmpty(t, outcome.SessionID)
}

func TestPollUntilResolvedRetriesGatewayErrors(t *testing.T) {
	gwErr := &gateway.GatewayError{Op: "verify", StatusCode: 500, Message: "flaky"}
	completed := &gateway.VerificationOutcome{Status: gateway.VerifyCompleted, Amount: 500000, Currency: "NGN"}
	poller, ref := newPollerEnv(t, []verifyStep{
		{err: gwErr},
		{err: gwErr},
		{outcome: completed},
	}, fastPolicy())

	outcome, err := poller.PollUntilResolved(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome.Status)
}

func TestPollUntilResolvedGivesUpOnGateway(t *testing.T) {
	gwErr := &gateway.GatewayError{Op: "verify", StatusCode: 500, Message: "dead"}
	poller, ref := newPollerEnv(t, []verifyStep{{err: gwErr}}, fastPolicy())

	_, err := poller.PollUntilResolved(context.Background(), ref)
	require.Error(t, err)
	var got *gateway.GatewayError
	assert.ErrorAs(t, err, &got)
}

func TestPollUntilResolvedTimesOut(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 3
	poller, ref := newPollerEnv(t, nil, policy)

	_, err := poller.PollUntilResolved(context.Background(), ref)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestPollUntilResolvedFailed(t *testing.T) {
	poller, ref := newPollerEnv(t, []verifyStep{
		{outcome: &gateway.VerificationOutcome{Status: gateway.VerifyFailed}},
	}, fastPolicy())

	outcome, err := poller.PollUntilResolved(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
}

func TestPollUntilResolvedContextCancel(t *testing.T) {
	policy := fastPolicy()
	policy.Interval = time.Hour
	poller, ref := newPollerEnv(t, nil, policy)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := poller.PollUntilResolved(ctx, ref)
	assert.ErrorIs(t, err, context.Canceled)
}
