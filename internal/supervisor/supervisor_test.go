package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyBackoffProgression(t *testing.T) {
	p := Policy{
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		BackoffFactor:  2.0,
	}.withDefaults()

	// Jitter adds at most 10%, so each attempt stays within [base, 1.1*base].
	for attempt, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 8 * time.Second, // capped
	} {
		got := p.backoffFor(attempt)
		assert.GreaterOrEqual(t, got, base, "attempt %d", attempt)
		assert.LessOrEqual(t, got, time.Duration(float64(base)*1.1)+time.Millisecond, "attempt %d", attempt)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := New(Policy{}, nil)

	require.NoError(t, s.Add("pruner", "pipeline", func(ctx context.Context) error { return nil }))
	err := s.Add("pruner", "pipeline", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestWorkerRestartsUntilRetryBudget(t *testing.T) {
	var runs int64
	s := New(Policy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, nil)

	require.NoError(t, s.Add("flaky", "test", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 3
	}, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Workers, 1)
	assert.Equal(t, StateFailed, snap.Workers[0].State)
	assert.Equal(t, "boom", snap.Workers[0].LastError)
	assert.Equal(t, 1, snap.Unhealthy)

	require.NoError(t, s.Stop(time.Second))
}

func TestWorkerPanicIsRestarted(t *testing.T) {
	var runs int64
	s := New(Policy{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}, nil)

	require.NoError(t, s.Add("panicky", "test", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		panic("unexpected")
	}))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 2
	}, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Contains(t, snap.Workers[0].LastError, "panicked")

	require.NoError(t, s.Stop(time.Second))
}

func TestContextCancelStopsWorkers(t *testing.T) {
	started := make(chan struct{})
	s := New(Policy{}, nil)

	require.NoError(t, s.Add("loop", "test", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	<-started

	cancel()
	require.NoError(t, s.Stop(time.Second))

	snap := s.Snapshot()
	assert.Equal(t, StateStopped, snap.Workers[0].State)
	assert.False(t, snap.Running)
}

func TestCleanExitIsNotRestarted(t *testing.T) {
	var runs int64
	s := New(Policy{MaxRetries: 5, InitialBackoff: time.Millisecond}, nil)

	require.NoError(t, s.Add("oneshot", "test", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return s.Snapshot().Workers[0].State == StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&runs))

	require.NoError(t, s.Stop(time.Second))
}

func TestAddAfterStartRejected(t *testing.T) {
	s := New(Policy{}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)

	err := s.Add("late", "test", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}
