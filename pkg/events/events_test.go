package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:     EventVolumeAttached,
		Message:  "Volume vol1 attached",
		Metadata: map[string]string{"volume": "vol1"},
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventVolumeAttached, ev.Type)
			assert.Equal(t, "vol1", ev.Metadata["volume"])
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			require.Fail(t, "event not delivered")
		}
	}

	broker.Unsubscribe(sub1)
	assert.Equal(t, 1, broker.SubscriberCount())
}

func TestBrokerSkipsFullSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for i := 0; i < 60; i++ {
		broker.Publish(&Event{Type: EventSnapshotCreated})
	}

	assert.Eventually(t, func() bool { return len(sub) == cap(sub) }, time.Second, 10*time.Millisecond)
}
