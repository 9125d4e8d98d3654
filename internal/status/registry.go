// Package status tracks the loading state of every named section of the
// in-memory portfolio view.
//
// A Registry is the only owner of section statuses. Callers never write a
// status directly; they go through Set, Reset or Begin, and every mutation is
// delivered to the registered subscribers.
package status

import (
	"sync"
)

// Change describes one status mutation.
type Change struct {
	Section Section
	From    Status
	To      Status
}

// Registry maps sections to their current status.
type Registry struct {
	mu       sync.Mutex
	statuses map[Section]Status

	subMu       sync.RWMutex
	subscribers map[int]func(Change)
	nextSubID   int
}

// NewRegistry creates an empty registry where every section is StatusNone.
func NewRegistry() *Registry {
	return &Registry{
		statuses:    make(map[Section]Status),
		subscribers: make(map[int]func(Change)),
	}
}

// Get returns the status of a section, StatusNone if it was never set.
func (r *Registry) Get(section Section) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(section)
}

func (r *Registry) get(section Section) Status {
	if s, ok := r.statuses[section]; ok {
		return s
	}
	return StatusNone
}

// Set overwrites the status of a section unconditionally.
func (r *Registry) Set(status Status, section Section) {
	r.mu.Lock()
	from := r.swap(section, status)
	r.mu.Unlock()

	r.publish(Change{Section: section, From: from, To: status})
}

// Reset puts a section back to StatusNone.
func (r *Registry) Reset(section Section) {
	r.mu.Lock()
	from := r.get(section)
	delete(r.statuses, section)
	r.mu.Unlock()

	r.publish(Change{Section: section, From: from, To: StatusNone})
}

// Begin is the re-entrancy guard of every guarded fetch. It declines when the
// section is in flight, or loaded and refresh is false. Otherwise it moves the
// section to StatusLoading (or StatusRefreshing when refresh is set) and
// returns the status it wrote.
//
// The check and the write happen under the registry lock, so of two
// concurrent callers exactly one is admitted.
func (r *Registry) Begin(section Section, refresh bool) (Status, bool) {
	r.mu.Lock()
	current := r.get(section)
	if !Admits(current, refresh) {
		r.mu.Unlock()
		return current, false
	}

	next := StatusLoading
	if refresh {
		next = StatusRefreshing
	}
	r.swap(section, next)
	r.mu.Unlock()

	r.publish(Change{Section: section, From: current, To: next})
	return next, true
}

// Admits reports whether a fetch may start from the given status.
func Admits(current Status, refresh bool) bool {
	if current.InFlight() {
		return false
	}
	return current != StatusLoaded || refresh
}

// Snapshot returns a copy of every section that is not StatusNone.
func (r *Registry) Snapshot() map[Section]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Section]Status, len(r.statuses))
	for section, s := range r.statuses {
		out[section] = s
	}
	return out
}

// Subscribe registers fn to be called after every mutation. The returned
// function removes the subscription.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subscribers, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) swap(section Section, status Status) Status {
	from := r.get(section)
	if status == StatusNone {
		delete(r.statuses, section)
	} else {
		r.statuses[section] = status
	}
	return from
}

func (r *Registry) publish(change Change) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, fn := range r.subscribers {
		fn(change)
	}
}
