package event_bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishInSubscriptionOrder(t *testing.T) {
	// given
	bus := NewEventBus()
	var calls []int
	for i := 1; i <= 5; i++ {
		bus.Subscribe(TransferProgressedEvent, func(Event) error {
			calls = append(calls, i)
			return nil
		})
	}

	// when
	err := bus.Publish(NewEvent(context.Background(), TransferProgressedEvent, TransferProgressed{JobId: "a"}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
}

func TestEventBus_SubscribeTyped(t *testing.T) {
	// given
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	bus := NewEventBusWithClock(utils.NewMockClock(now))
	var received []EventT[TransferFinished]
	SubscribeTyped(bus, TransferFinishedEvent, func(e EventT[TransferFinished]) error {
		received = append(received, e)
		return nil
	})

	// when
	require.NoError(t, bus.Publish(NewEvent(context.Background(), TransferFinishedEvent, "not a payload")))
	require.NoError(t, bus.Publish(NewEvent(context.Background(), TransferFinishedEvent, TransferFinished{JobId: "job-1", Processed: 3})))

	// then
	require.Len(t, received, 1)
	assert.Equal(t, "job-1", received[0].Data.JobId)
	assert.Equal(t, 3, received[0].Data.Processed)
	assert.Equal(t, now, received[0].Timestamp)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	// given
	bus := NewEventBus()
	calls := 0
	unsubscribe := bus.Subscribe(TransferProgressedEvent, func(Event) error {
		calls++
		return nil
	})

	// when
	unsubscribe()
	err := bus.Publish(NewEvent(context.Background(), TransferProgressedEvent, TransferProgressed{}))

	// then
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestEventBus_HandlerErrorsAndPanicsAreCollected(t *testing.T) {
	// given
	bus := NewEventBus()
	boom := errors.New("boom")
	delivered := false
	bus.Subscribe(TransferFinishedEvent, func(Event) error { return boom })
	bus.Subscribe(TransferFinishedEvent, func(Event) error { panic("bad handler") })
	bus.Subscribe(TransferFinishedEvent, func(Event) error {
		delivered = true
		return nil
	})

	// when
	err := bus.Publish(NewEvent(context.Background(), TransferFinishedEvent, TransferFinished{}))

	// then
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad handler")
	assert.True(t, delivered)
}

func TestEventBus_CancelledContext(t *testing.T) {
	// given
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(TransferFinishedEvent, func(Event) error {
		calls++
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// when
	errCancelled := bus.Publish(NewEvent(ctx, TransferFinishedEvent, TransferFinished{}))
	errDetached := bus.Publish(NewEvent(context.WithoutCancel(ctx), TransferFinishedEvent, TransferFinished{}))

	// then
	assert.ErrorIs(t, errCancelled, context.Canceled)
	assert.NoError(t, errDetached)
	assert.Equal(t, 1, calls)
}
