package dom

import "sync"

// Event is a synchronous document event: form submits, async lifecycle
// notifications, anything hosts or the engine want to broadcast.
type Event struct {
	Type   string
	Target *Element
	// Detail carries event-specific payload. Keys depend on Type; HTMX
	// style events use "elt", "xhr:status" and friends.
	Detail map[string]string
}

type listener struct {
	fn   func(Event)
	once bool
}

// On registers a handler for an event type. Handlers run synchronously, in
// registration order, on the goroutine that calls Dispatch. The returned
// function removes the handler.
func (d *Document) On(eventType string, fn func(Event)) func() {
	return d.on(eventType, fn, false)
}

// Once registers a handler removed after its first invocation.
func (d *Document) Once(eventType string, fn func(Event)) func() {
	return d.on(eventType, fn, true)
}

func (d *Document) on(eventType string, fn func(Event), once bool) func() {
	l := &listener{fn: fn, once: once}
	d.mu.Lock()
	d.listeners[eventType] = append(d.listeners[eventType], l)
	d.mu.Unlock()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.removeListener(eventType, l)
		})
	}
}

// Dispatch delivers an event to every registered handler for its type.
// The document mutex is not held while handlers run, so handlers may
// mutate the document freely.
func (d *Document) Dispatch(ev Event) {
	d.mu.Lock()
	regs := d.listeners[ev.Type]
	run := make([]*listener, len(regs))
	copy(run, regs)
	for _, l := range regs {
		if l.once {
			d.removeListener(ev.Type, l)
		}
	}
	d.mu.Unlock()

	for _, l := range run {
		l.fn(ev)
	}
}

// removeListener drops one registration. Caller holds d.mu.
func (d *Document) removeListener(eventType string, l *listener) {
	regs := d.listeners[eventType]
	for i, cand := range regs {
		if cand == l {
			d.listeners[eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}
