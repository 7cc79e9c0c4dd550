package dispatch

import (
	"sync"
	"time"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

// Subscription is one consumer's active filter for one record kind.
type Subscription struct {
	Consumer  *Consumer
	Kind      datex.Kind
	Filter    Filter
	Sites     map[string]struct{}
	CreatedAt time.Time
}

// Registry stores active subscriptions keyed by (consumer, kind). It
// tolerates concurrent register/unregister while delivery iterates: the
// mutation lock is only held to swap map entries, and iteration works on
// a snapshot slice, so churn can never duplicate or drop a delivery
// within one snapshot.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[datex.Kind]*Subscription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[datex.Kind]*Subscription)}
}

// Register installs the subscription, replacing any existing entry for
// the same (consumer, kind).
func (r *Registry) Register(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind, ok := r.subs[sub.Consumer.ID()]
	if !ok {
		byKind = make(map[datex.Kind]*Subscription, 2)
		r.subs[sub.Consumer.ID()] = byKind
	}
	byKind[sub.Kind] = sub
}

// Unregister removes one (consumer, kind) entry.
func (r *Registry) Unregister(consumerID string, kind datex.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind, ok := r.subs[consumerID]
	if !ok {
		return false
	}
	if _, ok := byKind[kind]; !ok {
		return false
	}
	delete(byKind, kind)
	if len(byKind) == 0 {
		delete(r.subs, consumerID)
	}
	return true
}

// UnregisterAll removes every entry for a disconnecting consumer.
func (r *Registry) UnregisterAll(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, consumerID)
}

// ForKind returns a snapshot of the subscriptions for a kind. The slice
// is safe to iterate without holding any lock.
func (r *Registry) ForKind(kind datex.Kind) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, byKind := range r.subs {
		if sub, ok := byKind[kind]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// Get returns the active subscription for a (consumer, kind), if any.
func (r *Registry) Get(consumerID string, kind datex.Kind) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKind, ok := r.subs[consumerID]
	if !ok {
		return nil, false
	}
	sub, ok := byKind[kind]
	return sub, ok
}

// Len returns the total number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byKind := range r.subs {
		n += len(byKind)
	}
	return n
}
