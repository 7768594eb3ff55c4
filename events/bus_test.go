package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string

	bus.Subscribe("secret:db", func(_ context.Context, e Event) error {
		got = append(got, fmt.Sprintf("first:%v", e.Payload))
		return nil
	})
	bus.Subscribe("secret:db", func(_ context.Context, e Event) error {
		got = append(got, fmt.Sprintf("second:%v", e.Payload))
		return nil
	})

	bus.Emit(context.Background(), "secret:db", 1)
	bus.Emit(context.Background(), "secret:db", 2)

	assert.Equal(t, []string{"first:1", "second:1", "first:2", "second:2"}, got)
}

func TestBus_EmitWithoutHandlers(t *testing.T) {
	bus := NewBus(nil)
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), TopicError, fmt.Errorf("dropped"))
		bus.Emit(context.Background(), TopicLoginError, nil)
	})
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	called := 0

	bus.Subscribe(TopicError, func(context.Context, Event) error {
		called++
		return fmt.Errorf("handler broke")
	})
	bus.Subscribe(TopicError, func(context.Context, Event) error {
		called++
		return nil
	})

	bus.Emit(context.Background(), TopicError, nil)
	assert.Equal(t, 2, called)
}

func TestBus_Cancel(t *testing.T) {
	bus := NewBus(nil)
	var got []int

	cancel := bus.Subscribe("t", func(context.Context, Event) error {
		got = append(got, 1)
		return nil
	})
	bus.Subscribe("t", func(context.Context, Event) error {
		got = append(got, 2)
		return nil
	})
	require.Equal(t, 2, bus.HandlerCount("t"))

	cancel()
	cancel()
	assert.Equal(t, 1, bus.HandlerCount("t"))

	bus.Emit(context.Background(), "t", nil)
	assert.Equal(t, []int{2}, got)
}

func TestBus_CancelDuringEmit(t *testing.T) {
	bus := NewBus(nil)
	calls := 0

	var cancel func()
	cancel = bus.Subscribe("t", func(context.Context, Event) error {
		calls++
		cancel()
		return nil
	})
	bus.Subscribe("t", func(context.Context, Event) error {
		calls++
		return nil
	})

	bus.Emit(context.Background(), "t", nil)
	assert.Equal(t, 2, calls, "snapshot taken before dispatch")

	bus.Emit(context.Background(), "t", nil)
	assert.Equal(t, 3, calls)
}

func TestBus_UnsubscribeAndTopics(t *testing.T) {
	bus := NewBus(nil)
	noop := func(context.Context, Event) error { return nil }

	bus.Subscribe(SecretTopic("b"), noop)
	bus.Subscribe(SecretTopic("a"), noop)
	bus.Subscribe(TopicError, noop)

	assert.Equal(t, []string{"error", "secret:a", "secret:b"}, bus.Topics())

	bus.Unsubscribe(SecretTopic("a"))
	assert.Equal(t, 0, bus.HandlerCount("secret:a"))
	assert.Equal(t, []string{"error", "secret:b"}, bus.Topics())
}

func TestBus_EventTimestamp(t *testing.T) {
	bus := NewBus(nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.SetTimeSource(func() time.Time { return at })

	var got Event
	bus.Subscribe(TopicLogin, func(_ context.Context, e Event) error {
		got = e
		return nil
	})
	bus.Emit(context.Background(), TopicLogin, LoginPayload{Backend: "token"})

	assert.Equal(t, TopicLogin, got.Topic)
	assert.Equal(t, at, got.OccurredAt)
	assert.Equal(t, LoginPayload{Backend: "token"}, got.Payload)
}

func TestSecretTopic(t *testing.T) {
	assert.Equal(t, "secret:.", SecretTopic("."))
	assert.Equal(t, "secret:db.creds", SecretTopic("db.creds"))
}
