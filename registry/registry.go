// Package registry is the per-element loading-state table. It is the
// explicit stand-in for weak element associations: entries are keyed by
// document element ID and evicted through the document's removal hooks, so
// a detached subtree cannot pin state forever.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/schedule"
)

// State is everything recorded for one actively-loading element.
type State struct {
	// Strategy is the name actually applied, which removal must match
	// regardless of whatever the caller passes later.
	Strategy string
	// Options is the resolved bag the strategy was applied with.
	Options notation.Options
	// ActivatedAt is when the loading state went up.
	ActivatedAt time.Time
	// Snapshot holds the element's pre-apply innerHTML.
	Snapshot string
	// Styles holds pre-apply inline style properties the strategy
	// overwrote (spinner width lock, fade opacity/transition). Empty
	// string means the property was absent.
	Styles map[string]string
	// Fallback is the defensive cleanup timer installed by form
	// instrumentation, nil when none is armed. Re-activation and real
	// cleanups must cancel it.
	Fallback *schedule.Task
	// Tracked marks elements the change watcher already activated.
	Tracked bool
}

// Registry maps element IDs to their loading state. All methods are safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	states map[uint64]*State

	evictions atomic.Uint64
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{states: make(map[uint64]*State)}
}

// Bind wires the registry's eviction to a document: whenever an element is
// detached, its state entry is dropped and any armed fallback timer is
// cancelled so it cannot fire against a dead element.
func (r *Registry) Bind(doc *dom.Document) {
	doc.OnRemove(func(id uint64) {
		r.mu.Lock()
		st, ok := r.states[id]
		if ok {
			delete(r.states, id)
		}
		r.mu.Unlock()
		if !ok {
			return
		}
		r.evictions.Add(1)
		if st.Fallback != nil {
			st.Fallback.Cancel()
		}
	})
}

// Get returns the state for an element.
func (r *Registry) Get(el *dom.Element) (*State, bool) {
	if el == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[el.ID()]
	return st, ok
}

// Put installs or replaces the state for an element.
func (r *Registry) Put(el *dom.Element, st *State) {
	if el == nil {
		return
	}
	r.mu.Lock()
	r.states[el.ID()] = st
	r.mu.Unlock()
}

// Delete drops the state for an element, returning the removed entry.
func (r *Registry) Delete(el *dom.Element) (*State, bool) {
	if el == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[el.ID()]
	if ok {
		delete(r.states, el.ID())
	}
	return st, ok
}

// Len reports how many elements currently hold loading state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Evictions reports how many entries were dropped by document removals.
func (r *Registry) Evictions() uint64 {
	return r.evictions.Load()
}

// Each visits every entry. The callback must not call back into the
// registry.
func (r *Registry) Each(fn func(id uint64, st *State)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, st := range r.states {
		fn(id, st)
	}
}
