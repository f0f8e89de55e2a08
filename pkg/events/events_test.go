package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/types"
)

// TestPublishSubscribe verifies events reach every subscriber and carry
// a timestamp.
func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&types.Event{
		Type:        types.EventExecutionStarted,
		ExecutionID: "e-1",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, types.EventExecutionStarted, event.Type)
			assert.Equal(t, "e-1", event.ExecutionID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

// TestUnsubscribe verifies removal closes the channel and stops delivery
func TestUnsubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

// TestSlowSubscriberDoesNotBlock verifies a full subscriber buffer drops
// events instead of stalling publishers.
func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()

	done := make(chan struct{})
	go func() {
		// well past the broker and subscriber buffers combined
		for i := 0; i < 500; i++ {
			broker.Publish(&types.Event{Type: types.EventTaskUpdated, TaskID: "t-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	// the subscriber holds at most its buffer; the rest were dropped
	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, len(slow), 50)
	require.NotEmpty(t, slow)
}
