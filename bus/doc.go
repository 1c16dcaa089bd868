// Package bus provides the in-process message router for agent coordination.
//
// # Overview
//
// A Bus owns three tables: the mailbox registry (agent ID to mailbox), the
// topic subscription table, and the pending request table keyed by
// correlation ID. All cross-agent interaction flows through Publish; no
// agent ever reaches into another's state.
//
// # Patterns
//
// Point-to-point - enqueue into one registered mailbox:
//
//	bus.Publish(message.NewRequest("client", "worker", "score", payload))
//
// Broadcast - fan out to every mailbox subscribed to a topic pattern at
// publish time (late subscribers do not receive the message):
//
//	bus.Subscribe("video-plugin", "plugin.video")
//	bus.Publish(message.New("core", "plugin.*", message.TypeNotification, payload))
//
// Request/reply - block until a correlated RESPONSE/ERROR arrives or the
// deadline elapses:
//
//	reply, err := bus.RequestAndWait(ctx, "client", "worker", "score", payload, 5*time.Second)
//
// # Delivery guarantees
//
// Mailboxes dequeue by priority, FIFO within a priority. A registered
// recipient receives each publish exactly once. Every request resolves its
// waiter exactly once: a correlated reply, or a timeout. Late replies for a
// purged correlation ID are logged and dropped, never redelivered.
package bus
