package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitRunsHandlersInOrder(t *testing.T) {
	b := New()
	var calls []string
	b.Subscribe("Prices Changed", func(_ context.Context, _ Event) error {
		calls = append(calls, "first")
		return nil
	})
	b.Subscribe("Prices Changed", func(_ context.Context, _ Event) error {
		calls = append(calls, "second")
		return nil
	})

	err := b.Emit(context.Background(), Event{Name: "Prices Changed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestEmitStopsAtFirstError(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	var secondRan bool
	b.Subscribe("Prices Changed", func(_ context.Context, _ Event) error { return boom })
	b.Subscribe("Prices Changed", func(_ context.Context, _ Event) error {
		secondRan = true
		return nil
	})

	err := b.Emit(context.Background(), Event{Name: "Prices Changed"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondRan)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	b := New()
	err := b.Emit(context.Background(), Event{Name: "Nobody Cares"})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestEmitPassesPayload(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe("Prices Changed", func(_ context.Context, e Event) error {
		got = e
		return nil
	})

	want := Event{
		Name:              "Prices Changed",
		Hook:              "sns",
		Projection:        "Prices",
		ProjectionVersion: 2,
		NotificationID:    7,
		Attempts:          1,
	}
	require.NoError(t, b.Emit(context.Background(), want))
	assert.Equal(t, want, got)
}

func TestEmitOnlyMatchingEvent(t *testing.T) {
	b := New()
	var ran bool
	b.Subscribe("Prices Changed", func(_ context.Context, _ Event) error {
		ran = true
		return nil
	})
	b.Subscribe("Parks Changed", func(_ context.Context, _ Event) error { return nil })

	require.NoError(t, b.Emit(context.Background(), Event{Name: "Parks Changed"}))
	assert.False(t, ran)
}
