package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/events"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func TestEmitDeliversToSubscribersAndNotifiers(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.NewBus(notifier)

	var got []events.Event
	require.NoError(t, bus.Subscribe(events.TopicOrderCaptured, func(ev events.Event) {
		got = append(got, ev)
	}))

	ev, err := bus.Emit(context.Background(), events.TopicOrderCaptured, "ORDER-1", map[string]any{"status": "COMPLETED"})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Len(t, got, 1)
	require.Equal(t, ev.ID, got[0].ID)
	require.Len(t, notifier.events, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	require.Equal(t, "COMPLETED", decoded["status"])
}

func TestEmitAsyncSubscriber(t *testing.T) {
	bus := events.NewBus()
	var (
		mu   sync.Mutex
		seen int
	)
	require.NoError(t, bus.SubscribeAsync(events.TopicDonationSucceeded, func(events.Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	}))

	_, err := bus.Emit(context.Background(), events.TopicDonationSucceeded, "pi_1", nil)
	require.NoError(t, err)
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, seen)
}

func TestEmitValidation(t *testing.T) {
	bus := events.NewBus()
	_, err := bus.Emit(context.Background(), " ", "x", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "x", json.RawMessage("{oops"))
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("sink down")}
	bus := events.NewBus(notifier)

	ev, err := bus.Emit(context.Background(), events.TopicCaptureFailed, "ORDER-2", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sink down")
	require.Equal(t, events.TopicCaptureFailed, ev.Topic)
}
