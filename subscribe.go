package trellis

import (
	"slices"
	"sync"
)

type eventSubscriber struct {
	id     uint64
	target *ContainerID // nil for the whole document
	fn     func(*EventBatch)
}

type callbackEntry[F any] struct {
	id uint64
	fn F
}

// callbackList keeps callbacks in subscription order.
type callbackList[F any] struct {
	entries []callbackEntry[F]
}

func (l *callbackList[F]) add(id uint64, fn F) {
	l.entries = append(l.entries, callbackEntry[F]{id: id, fn: fn})
}

func (l *callbackList[F]) remove(id uint64) bool {
	i := slices.IndexFunc(l.entries, func(e callbackEntry[F]) bool { return e.id == id })
	if i < 0 {
		return false
	}
	l.entries = slices.Delete(l.entries, i, i+1)
	return true
}

func (l *callbackList[F]) snapshot() []F {
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

// subscriptionRegistry owns every callback of a document. Callers only
// hold Subscription tokens.
type subscriptionRegistry struct {
	mu     sync.Mutex
	nextID uint64

	events       []eventSubscriber
	localUpdates callbackList[func([]byte)]
	firstCommit  callbackList[func(FirstCommitFromPeerEvent)]
	preCommit    callbackList[func(*PreCommitEvent) error]
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{}
}

func (r *subscriptionRegistry) token() *Subscription {
	r.nextID++
	return &Subscription{id: r.nextID, reg: r}
}

func (r *subscriptionRegistry) addEvents(target *ContainerID, fn func(*EventBatch)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.token()
	r.events = append(r.events, eventSubscriber{id: sub.id, target: target, fn: fn})
	return sub
}

func (r *subscriptionRegistry) addLocalUpdates(fn func([]byte)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.token()
	r.localUpdates.add(sub.id, fn)
	return sub
}

func (r *subscriptionRegistry) addFirstCommit(fn func(FirstCommitFromPeerEvent)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.token()
	r.firstCommit.add(sub.id, fn)
	return sub
}

func (r *subscriptionRegistry) addPreCommit(fn func(*PreCommitEvent) error) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.token()
	r.preCommit.add(sub.id, fn)
	return sub
}

func (r *subscriptionRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.IndexFunc(r.events, func(s eventSubscriber) bool { return s.id == id }); i >= 0 {
		r.events = slices.Delete(r.events, i, i+1)
		return
	}
	if r.localUpdates.remove(id) || r.firstCommit.remove(id) {
		return
	}
	r.preCommit.remove(id)
}

func (r *subscriptionRegistry) eventTargets() []eventSubscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *subscriptionRegistry) localUpdateTargets() []func([]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localUpdates.snapshot()
}

func (r *subscriptionRegistry) firstCommitTargets() []func(FirstCommitFromPeerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstCommit.snapshot()
}

func (r *subscriptionRegistry) preCommitTargets() []func(*PreCommitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preCommit.snapshot()
}

// Subscription identifies a registered callback.
type Subscription struct {
	id  uint64
	reg *subscriptionRegistry
}

// Unsubscribe stops all later deliveries. Batches already queued are
// still delivered.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.remove(s.id)
}
