/*
Package event defines the events the cowork server broadcasts and the Bus that
delivers them.

# Event Types

Stream:
  - stream.message: one unit emitted by the agent process
  - stream.user_prompt: a prompt submitted by the user

Session:
  - session.status: status transition, optionally carrying title, cwd or error
  - session.list: every session, most recent first
  - session.history: persisted history for one session
  - session.deleted: the session no longer exists

Permission:
  - permission.request: the agent is waiting on an approval decision

Right panel projections:
  - rightpanel.todos
  - rightpanel.filechanges
  - rightpanel.filetree

Errors:
  - runner.error: a command could not be carried out

# Ordering

The router publishes with PublishSync so observers see events in the order
they were produced. Subscribers run on the publisher's goroutine and must not
block; transports copy events into buffered channels and drop on overflow.

	unsubscribe := bus.SubscribeAll(func(e event.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

# Journal

Tap attaches a watermill subscription that receives a JSON copy of every event
with the event type and session id in the message metadata. Nothing is
serialized until the first Tap call.
*/
package event
