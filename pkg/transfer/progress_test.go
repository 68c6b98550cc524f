package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Throttling(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("notifies first record then waits for the interval", func(t *testing.T) {
		// given
		clock := utils.NewMockClock(start)
		var seen []int
		tr := NewTracker(clock, 250*time.Millisecond, func(p Progress) { seen = append(seen, p.Processed) })

		// when
		tr.Record()
		clock.Advance(100 * time.Millisecond)
		tr.Record()
		clock.Advance(150 * time.Millisecond)
		tr.Record()
		clock.Advance(1 * time.Millisecond)
		tr.Record()
		tr.Record()

		// then
		assert.Equal(t, []int{1, 4}, seen)
		assert.Equal(t, 5, tr.Processed())
	})

	t.Run("final record of a known total is never throttled", func(t *testing.T) {
		// given
		clock := utils.NewMockClock(start)
		var seen []Progress
		tr := NewTracker(clock, 250*time.Millisecond, func(p Progress) { seen = append(seen, p) })
		tr.SetTotal(4)

		// when
		for range 4 {
			tr.Record()
		}

		// then
		require.Len(t, seen, 2)
		assert.Equal(t, 1, seen[0].Processed)
		assert.Equal(t, 4, seen[1].Processed)
		require.NotNil(t, seen[1].Total)
		assert.Equal(t, 4, *seen[1].Total)
	})

	t.Run("unknown total is reported as nil", func(t *testing.T) {
		// given
		var seen []Progress
		tr := NewTracker(utils.NewMockClock(start), 0, func(p Progress) { seen = append(seen, p) })

		// when
		tr.Record()

		// then
		require.Len(t, seen, 1)
		assert.Nil(t, seen[0].Total)
		_, known := tr.Total()
		assert.False(t, known)
	})

	t.Run("finish reports the final count once", func(t *testing.T) {
		// given
		var seen []Progress
		tr := NewTracker(utils.NewMockClock(start), time.Second, func(p Progress) { seen = append(seen, p) })
		for range 3 {
			tr.Record()
		}

		// when
		tr.Finish()
		tr.Finish()

		// then
		require.Len(t, seen, 2)
		assert.Equal(t, 3, seen[1].Processed)
		require.NotNil(t, seen[1].Total)
		assert.Equal(t, 3, *seen[1].Total)
	})

	t.Run("finish without records", func(t *testing.T) {
		var seen []Progress
		tr := NewTracker(utils.NewMockClock(start), time.Second, func(p Progress) { seen = append(seen, p) })
		tr.Finish()
		require.Len(t, seen, 1)
		assert.Equal(t, 0, seen[0].Processed)
	})

	t.Run("no listener", func(t *testing.T) {
		tr := NewTracker(utils.NewMockClock(start), time.Second, nil)
		tr.Record()
		assert.Equal(t, 1, tr.Processed())
	})
}

func TestCheckpoint(t *testing.T) {
	// given
	ctx, cancel := context.WithCancelCause(context.Background())
	require.NoError(t, checkpoint(ctx))
	reason := errors.New("user pressed cancel")

	// when
	cancel(reason)
	err := checkpoint(ctx)

	// then
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, reason)
	assert.Equal(t, KindInterrupted, KindOf(err))
}
