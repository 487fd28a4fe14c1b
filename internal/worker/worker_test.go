package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeReleaser struct {
	released  int
	err       error
	failUntil int
	calls     int
}

func (f *fakeReleaser) ReleaseStaleHolds(ctx context.Context) (int, error) {
	f.calls++
	if f.err != nil && f.calls <= f.failUntil {
		return 0, f.err
	}
	return f.released, nil
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{}
	if d := policy.NextDelay(0); d != time.Second {
		t.Fatalf("expected 1s default, got %s", d)
	}
	if d := policy.NextDelay(3); d != 4*time.Second {
		t.Fatalf("expected 4s with default factor, got %s", d)
	}
}

func TestRetryPolicyJitterStaysBounded(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := policy.NextDelay(1)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %s outside [750ms, 1250ms]", d)
		}
	}
}

func TestSweepRetryPolicy(t *testing.T) {
	policy := SweepRetryPolicy()
	if policy.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", policy.MaxRetries)
	}
	if policy.MaxDelay >= time.Minute {
		t.Fatalf("sweep retry cap %s must stay under the sweep interval", policy.MaxDelay)
	}
	if policy.Jitter <= 0 {
		t.Fatal("sweep retries must be jittered")
	}
}

func TestSweepSuccess(t *testing.T) {
	releaser := &fakeReleaser{released: 3}
	logger := zerolog.New(io.Discard)
	sweeper := NewHoldSweeper(releaser, time.Minute, RetryPolicy{}, &logger)

	sweeper.sweep(context.Background())

	if releaser.calls != 1 {
		t.Fatalf("expected 1 call, got %d", releaser.calls)
	}
}

func TestSweepRetriesTransientError(t *testing.T) {
	releaser := &fakeReleaser{released: 1, err: errors.New("locked"), failUntil: 2}
	logger := zerolog.New(io.Discard)
	retry := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	sweeper := NewHoldSweeper(releaser, time.Minute, retry, &logger)

	sweeper.sweep(context.Background())

	if releaser.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", releaser.calls)
	}
}

func TestSweepGivesUpAfterMaxRetries(t *testing.T) {
	releaser := &fakeReleaser{err: errors.New("down"), failUntil: 100}
	logger := zerolog.New(io.Discard)
	retry := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	sweeper := NewHoldSweeper(releaser, time.Minute, retry, &logger)

	sweeper.sweep(context.Background())

	if releaser.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", releaser.calls)
	}
}

func TestSweeperStartStopsOnContextCancel(t *testing.T) {
	releaser := &fakeReleaser{}
	logger := zerolog.New(io.Discard)
	sweeper := NewHoldSweeper(releaser, 10*time.Millisecond, RetryPolicy{}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}

	if releaser.calls == 0 {
		t.Fatal("expected at least one sweep")
	}
}
