// Package eventbus implements the per-action publish/subscribe channel used
// to stream action and task lifecycle events to observers (typically the SSE
// transport in runtime/agent/observer). Delivery is bounded and non-blocking:
// a slow or disconnected subscriber never stalls the scheduler, and instead
// drops events once its queue fills (with a warning when the Bus has a
// logger).
package eventbus

import (
	"context"
	"sync"

	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

// defaultQueueSize bounds the number of buffered events per subscriber.
// Chosen generously relative to expected DAG fan-out so a brief consumer
// stall (e.g. a network hiccup on the SSE transport) does not lose events
// under normal load; sustained stalls still drop rather than block.
const defaultQueueSize = 256

type (
	// Bus fans out Events to subscribers registered for a given action ID.
	// Publish never blocks on a slow subscriber: a full subscriber queue
	// simply drops the event.
	Bus interface {
		// Publish delivers event to every subscriber currently registered for
		// event.ActionID. Subscribers registered for other action IDs, or for
		// no action at all, do not receive it.
		Publish(event Event)

		// Subscribe registers interest in all events for actionID and returns a
		// Subscription whose Events channel receives them. Close must be
		// called when the subscriber is done to release its queue.
		Subscribe(actionID string) *Subscription
	}

	// Subscription is an active registration on a Bus.
	Subscription struct {
		actionID string
		events   chan Event
		bus      *bus
		once     sync.Once
	}

	bus struct {
		mu     sync.RWMutex
		subs   map[string]map[*Subscription]struct{}
		logger telemetry.Logger
	}
)

// Option configures an optional Bus dependency, following the runtime's WithX
// functional-option convention.
type Option func(*bus)

// WithLogger wires a Logger into the Bus so a dropped event (subscriber
// queue full) is logged rather than silently discarded.
func WithLogger(logger telemetry.Logger) Option {
	return func(b *bus) { b.logger = logger }
}

// New constructs an empty, ready-to-use Bus.
func New(opts ...Option) Bus {
	b := &bus{subs: make(map[string]map[*Subscription]struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Events returns the channel the subscriber should range over. The channel
// is closed when the Subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscription and closes its channel. Idempotent.
// Both the unregister and the close happen under the write lock, matching
// the read lock Publish holds for its whole fan-out, so a send can never be
// attempted on an already/concurrently-closing channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if set, ok := s.bus.subs[s.actionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.actionID)
			}
		}
		close(s.events)
	})
}

// Subscribe registers a new subscription for actionID.
func (b *bus) Subscribe(actionID string) *Subscription {
	sub := &Subscription{
		actionID: actionID,
		events:   make(chan Event, defaultQueueSize),
		bus:      b,
	}
	b.mu.Lock()
	set, ok := b.subs[actionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[actionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish fans event out to every subscriber of event.ActionID. Delivery to
// each subscriber is attempted without blocking; a subscriber whose queue is
// full does not receive the event and does not slow down the publisher. The
// read lock is held for the whole fan-out, not just the snapshot, so a
// concurrent Close can never close a subscriber's channel out from under an
// in-flight send: Close needs the write lock and blocks until Publish
// releases the read lock, by which point the subscriber is either fully
// delivered to or already removed from subs.
func (b *bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[event.ActionID] {
		select {
		case s.events <- event:
		default:
			if b.logger != nil {
				b.logger.Warn(context.Background(), "eventbus: dropping event, subscriber queue full",
					"action_id", event.ActionID, "event", string(event.Name))
			}
		}
	}
}
