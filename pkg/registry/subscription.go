// Package registry provides the publish/subscribe directories for
// configuration change notifications: a subscription registry keyed by
// key path, and a callback registry for whole-tree change listeners.
//
// Both registries are passive. They hold listener identities and deliver
// what they are handed; deciding when to publish is the configuration
// server's job.
package registry

import (
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/arca/pkg/keypath"
)

// Event is the notification message delivered to path subscribers.
type Event struct {
	// Path is the key path whose value changed.
	Path keypath.Path
	// Value is the new value at Path, already deep-copied.
	Value any
}

// Subscription is one registered (path, channel) pair. Events arrive on
// C. A subscriber that is done should call Close or pass itself to
// Unsubscribe; a closed channel is swept from the registry on the next
// delivery attempt.
type Subscription struct {
	id        uint64
	path      keypath.Path
	ch        chan Event
	closeOnce sync.Once
}

// C returns the receive side of the subscription channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Path returns the subscribed key path.
func (s *Subscription) Path() keypath.Path {
	return s.path.Clone()
}

// Close closes the subscription channel. Safe to call more than once.
// The registry notices the closed channel during the next publish to
// this path and drops the registration.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

// SubscriptionRegistry maps key paths to their current subscribers.
// Registration is duplicate-keyed: any number of subscriptions may
// exist for the same path. Delivery targets the exact path only;
// ancestor fan-out is the publisher's responsibility.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]*Subscription
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string][]*Subscription),
	}
}

// Subscribe registers a new subscription for path with the given
// channel buffer size. A buffer of zero makes every delivery attempt
// best-effort against an unbuffered channel, so slow consumers drop
// events rather than block the dispatcher.
func (r *SubscriptionRegistry) Subscribe(path keypath.Path, buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:   r.nextID,
		path: path.Clone(),
		ch:   make(chan Event, buffer),
	}
	key := path.String()
	r.subs[key] = append(r.subs[key], sub)

	logger.Debugw("Subscription registered", "path", key, "id", sub.id)
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Removing a
// subscription that is already gone is a no-op.
func (r *SubscriptionRegistry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	removed := r.removeLocked(sub)
	r.mu.Unlock()

	if removed {
		logger.Debugw("Subscription removed", "path", sub.path.String(), "id", sub.id)
	}
	sub.Close()
}

// Publish delivers an event to every current subscriber of exactly
// path. Sends are non-blocking: a full buffer drops the event for that
// subscriber. Subscribers whose channels are closed are swept from the
// registry. Returns the number of successful deliveries.
func (r *SubscriptionRegistry) Publish(path keypath.Path, value any) int {
	key := path.String()

	r.mu.RLock()
	targets := make([]*Subscription, len(r.subs[key]))
	copy(targets, r.subs[key])
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	ev := Event{Path: path.Clone(), Value: value}

	delivered := 0
	var dead []*Subscription
	for _, sub := range targets {
		ok, closed := trySend(sub, ev)
		switch {
		case closed:
			dead = append(dead, sub)
		case ok:
			delivered++
		default:
			logger.Warnw("Subscriber buffer full, event dropped",
				"path", key, "id", sub.id)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, sub := range dead {
			r.removeLocked(sub)
		}
		r.mu.Unlock()
		for _, sub := range dead {
			logger.Debugw("Subscription swept, channel closed",
				"path", key, "id", sub.id)
		}
	}

	return delivered
}

// trySend attempts a non-blocking delivery. A send on a closed channel
// panics; that panic is the death notice for the subscriber.
func trySend(sub *Subscription, ev Event) (delivered, closed bool) {
	defer func() {
		if recover() != nil {
			delivered = false
			closed = true
		}
	}()

	select {
	case sub.ch <- ev:
		return true, false
	default:
		return false, false
	}
}

// Count returns the number of current subscriptions for path.
func (r *SubscriptionRegistry) Count(path keypath.Path) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[path.String()])
}

// Len returns the total number of subscriptions across all paths.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}

// Close closes every subscription channel and empties the registry.
func (r *SubscriptionRegistry) Close() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[string][]*Subscription)
	r.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.Close()
		}
	}
}

// removeLocked drops sub from its path bucket. Caller holds the write lock.
func (r *SubscriptionRegistry) removeLocked(sub *Subscription) bool {
	key := sub.path.String()
	bucket := r.subs[key]
	for i, s := range bucket {
		if s.id == sub.id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(r.subs, key)
			} else {
				r.subs[key] = bucket
			}
			return true
		}
	}
	return false
}
