/*
Package events fans registry activity out to in-process subscribers.

Events are typed registry notifications (crate published, version yanked,
docs job completed, user logged in) carrying the crate, version, and
principal involved. Subscriptions filter by event type at the broker, so a
consumer interested only in docs work never sees publish traffic.

Delivery is synchronous and best-effort: Publish hands the event to every
matching subscription inline, skipping any whose buffer is full, so the
broker can never block a publish and must never be the source of truth.

The docs worker is the main consumer: a docs.queued event wakes it
immediately instead of waiting out its poll interval.

# Usage

	broker := events.NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(events.EventDocsQueued)
	defer broker.Unsubscribe(sub)
	for event := range sub.C() {
		...
	}

# See Also

  - pkg/registry for the publishing side
  - pkg/docs for the subscribing worker
*/
package events
