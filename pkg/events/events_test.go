package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event := <-sub.C():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(Event{
		Type:      EventCratePublished,
		Crate:     "foo",
		Version:   "0.1.0",
		Principal: "alice@example.com",
	})

	event := receive(t, sub)
	assert.Equal(t, EventCratePublished, event.Type)
	assert.Equal(t, "foo", event.Crate)
	assert.Equal(t, "0.1.0", event.Version)
	assert.False(t, event.Time.IsZero(), "Publish must stamp the event")
}

func TestSubscriptionFiltersByType(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	docsOnly := broker.Subscribe(EventDocsQueued)
	defer broker.Unsubscribe(docsOnly)

	broker.Publish(Event{Type: EventCratePublished, Crate: "foo", Version: "0.1.0"})
	broker.Publish(Event{Type: EventDocsQueued, Crate: "foo", Version: "0.1.0"})

	event := receive(t, docsOnly)
	assert.Equal(t, EventDocsQueued, event.Type)
	select {
	case extra := <-docsOnly.C():
		t.Fatalf("unexpected event %s leaked through the filter", extra.Type)
	default:
	}
}

func TestFullSubscriptionDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// Overflow the subscription buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*3; i++ {
			broker.Publish(Event{Type: EventDocsQueued, Crate: "foo", Version: "0.1.0"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscription")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe()
	require.Equal(t, 1, broker.SubscriberCount())

	broker.Close()
	_, open := <-sub.C()
	assert.False(t, open, "subscription channel must close with the broker")
	require.Equal(t, 0, broker.SubscriberCount())

	// Publishing and subscribing after Close are safe no-ops.
	broker.Publish(Event{Type: EventCratePublished})
	late := broker.Subscribe()
	_, open = <-late.C()
	assert.False(t, open)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}
