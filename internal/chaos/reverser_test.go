package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schedule(t *testing.T, rev *Reverser, operation string, params map[string]any, dueAt time.Time) int64 {
	t.Helper()
	id, err := rev.Schedule(context.Background(), operation, params, dueAt)
	require.NoError(t, err)
	return id
}

func TestReverser_RunOnceReversesDue(t *testing.T) {
	runner := &fakeRunner{}
	_, rev, store := newTestService(t, runner)
	ctx := context.Background()

	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	rev.now = func() time.Time { return now }

	schedule(t, rev, reverseTCClear, map[string]any{"iface": "eth0"}, now.Add(-time.Second))
	schedule(t, rev, reverseDockerConnect, map[string]any{"network": "n", "container": "c"}, now.Add(time.Hour))

	n, err := rev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"sudo tc qdisc del dev eth0 root netem"}, runner.commands())

	// Already claimed; a second sweep has nothing to do.
	n, err = rev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	due, err := store.DueReversals(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, reverseDockerConnect, due[0].Operation)
}

func TestReverser_RetriesThenAbandons(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"connect": errors.New("daemon down")}}
	_, rev, store := newTestService(t, runner)
	rev.config.MaxAttempts = 2
	ctx := context.Background()

	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	rev.now = func() time.Time { return now }
	schedule(t, rev, reverseDockerConnect, map[string]any{"network": "n", "container": "c"}, now)

	n, err := rev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	due, err := store.DueReversals(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "first failure releases the claim")
	assert.Equal(t, 1, due[0].Attempts)
	assert.Contains(t, due[0].LastError, "daemon down")

	_, err = rev.RunOnce(ctx)
	require.NoError(t, err)

	due, err = store.DueReversals(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "second failure abandons the reversal")
	assert.Len(t, runner.commands(), 2)
}

func TestReverser_StartSweepsOverdueOnBoot(t *testing.T) {
	runner := &fakeRunner{}
	_, rev, store := newTestService(t, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedule(t, rev, reverseTCClear, map[string]any{"iface": "eth0"}, time.Now().Add(-time.Minute))

	done := make(chan struct{})
	go func() {
		rev.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		due, err := store.DueReversals(context.Background(), time.Now(), 10)
		return err == nil && len(due) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []string{"sudo tc qdisc del dev eth0 root netem"}, runner.commands())
}

func TestReverser_FiredTimersAreForgotten(t *testing.T) {
	_, rev, _ := newTestService(t, &fakeRunner{})

	schedule(t, rev, reverseTCClear, map[string]any{"iface": "eth0"}, time.Now().Add(-time.Second))
	require.Eventually(t, func() bool { return rev.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReverser_CancelClosesReversal(t *testing.T) {
	runner := &fakeRunner{}
	_, rev, store := newTestService(t, runner)
	ctx := context.Background()

	id := schedule(t, rev, reverseDockerConnect, map[string]any{"network": "n", "container": "c"}, time.Now().Add(time.Hour))
	assert.Equal(t, 1, rev.Pending())

	require.NoError(t, rev.Cancel(ctx, id, "no such container"))
	assert.Zero(t, rev.Pending())

	due, err := store.DueReversals(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := rev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, runner.commands())

	// Cancelling twice is harmless.
	require.NoError(t, rev.Cancel(ctx, id, "again"))
}
