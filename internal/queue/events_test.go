package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubDelivers(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe("run_1")
	other := hub.Subscribe("run_2")

	hub.Emit("run_1", Event{RunID: "run_1", Status: RunStatusRunning})

	ev := <-ch
	assert.Equal(t, RunStatusRunning, ev.Status)
	assert.False(t, ev.Terminal())
	assert.Empty(t, other)

	hub.Unsubscribe("run_1", ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("run_1"))
	assert.Equal(t, 1, hub.Subscribers("run_2"))
}

func TestEventHubDropsWhenFull(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe("run_1")

	for i := 0; i < 100; i++ {
		hub.Emit("run_1", Event{RunID: "run_1", Progress: i})
	}

	require.Len(t, ch, cap(ch))
	assert.Equal(t, 0, (<-ch).Progress)
}

func TestEventHubClose(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe("run_1")
	hub.Close()

	_, open := <-ch
	assert.False(t, open)
	hub.Emit("run_1", Event{})
}
