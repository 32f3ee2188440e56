// Package trackertest provides a conformance suite for tracker.Tracker
// implementations.
package trackertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/retain/internal/tracker"
)

// Concurrency is the number of goroutines used by the stress tests.
const Concurrency = 64

// Run exercises a Tracker returned by newTracker. Each subtest gets a fresh
// tracker. Timestamps use millisecond precision so backends that store unix
// milliseconds compare equal.
func Run(t *testing.T, newTracker func(t *testing.T) tracker.Tracker) {
	t.Helper()
	now := time.UnixMilli(1735689600123).UTC()

	t.Run("UnknownIDIsZero", func(t *testing.T) {
		tr := newTracker(t)
		st, err := tr.Get(context.Background(), 404)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.AccessCount)
		assert.False(t, st.Reinforced())
	})

	t.Run("ReinforceIncrementsAndStamps", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		st, err := tr.Reinforce(ctx, 7, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.AccessCount)
		assert.True(t, st.LastReinforcedAt.Equal(now), "stamp = %v, want %v", st.LastReinforcedAt, now)

		later := now.Add(time.Hour)
		st, err = tr.Reinforce(ctx, 7, later)
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.AccessCount)
		assert.True(t, st.LastReinforcedAt.Equal(later))

		got, err := tr.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AccessCount)
		assert.True(t, got.LastReinforcedAt.Equal(later))
	})

	t.Run("IDsAreIndependent", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		_, err := tr.Reinforce(ctx, 1, now)
		require.NoError(t, err)
		_, err = tr.Reinforce(ctx, 1, now)
		require.NoError(t, err)
		_, err = tr.Reinforce(ctx, 2, now)
		require.NoError(t, err)

		a, err := tr.Get(ctx, 1)
		require.NoError(t, err)
		b, err := tr.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), a.AccessCount)
		assert.Equal(t, int64(1), b.AccessCount)
	})

	t.Run("LargeIDs", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()
		ids := []int64{1<<53 + 1, 1<<62 + 7, -9}
		for _, id := range ids {
			_, err := tr.Reinforce(ctx, id, now)
			require.NoError(t, err)
		}
		for _, id := range ids {
			st, err := tr.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), st.AccessCount, "id %d", id)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		_, err := tr.Reinforce(ctx, 9, now)
		require.NoError(t, err)
		require.NoError(t, tr.Remove(ctx, 9))

		st, err := tr.Get(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.AccessCount)
		assert.False(t, st.Reinforced())

		// Unknown ids remove cleanly.
		require.NoError(t, tr.Remove(ctx, 12345))
	})

	t.Run("CancelledReinforceIsNotApplied", func(t *testing.T) {
		tr := newTracker(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := tr.Reinforce(ctx, 3, now)
		require.ErrorIs(t, err, context.Canceled)

		st, err := tr.Get(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.AccessCount)
	})

	t.Run("ConcurrentReinforceLosesNothing", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, Concurrency)
		start := make(chan struct{})
		for i := 0; i < Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := tr.Reinforce(ctx, 42, now); err != nil {
					errs <- err
				}
			}()
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		st, err := tr.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(Concurrency), st.AccessCount)
	})

	t.Run("ConcurrentReadsSeeWholeStates", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		// A single writer stamps the i-th reinforcement with now+i seconds, so
		// any whole state has stamp == now + count seconds.
		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done)
			for i := 1; i <= 200; i++ {
				if _, err := tr.Reinforce(ctx, 5, now.Add(time.Duration(i)*time.Second)); err != nil {
					t.Errorf("Reinforce: %v", err)
					return
				}
			}
		}()

	read:
		for {
			select {
			case <-done:
				break read
			default:
			}
			st, err := tr.Get(ctx, 5)
			if err != nil {
				t.Errorf("Get: %v", err)
				break
			}
			if st.AccessCount == 0 {
				if st.Reinforced() {
					t.Errorf("torn read: count 0 with stamp %v", st.LastReinforcedAt)
					break
				}
				continue
			}
			want := now.Add(time.Duration(st.AccessCount) * time.Second)
			if !st.LastReinforcedAt.Equal(want) {
				t.Errorf("torn read: count %d with stamp %v, want %v", st.AccessCount, st.LastReinforcedAt, want)
				break
			}
		}
		wg.Wait()
	})
}
