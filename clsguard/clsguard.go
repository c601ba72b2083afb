// Package clsguard pins element box sizes while a loading state is shown,
// so swapping content in and out cannot shift the surrounding layout.
//
// Lock captures the element's measured box and writes matching inline
// min-width/min-height; Unlock puts the original values back. A resize
// watcher records sizes observed during the lock for diagnostics, it never
// moves or resizes anything itself. Without a layout-capable host (no
// metrics provider, no resize primitive, zero-area box) the guard degrades
// to a no-op, which is the correct behaviour for server-side documents
// that have no layout at all.
package clsguard

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/loadx/dom"
)

// snapshot is the per-element lock record.
type snapshot struct {
	box       dom.Box
	minWidth  string // original inline min-width
	minHeight string // original inline min-height
	observed  []dom.Box
	stop      func()
}

// Guard locks and unlocks element boxes. Zero value is unusable; use New.
type Guard struct {
	enabled bool
	logger  *slog.Logger

	mu    sync.Mutex
	snaps map[uint64]*snapshot
}

// New builds a guard. When enabled is false every Lock is a no-op, which
// is how preventCLS=false is implemented.
func New(enabled bool, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		enabled: enabled,
		logger:  logger,
		snaps:   make(map[uint64]*snapshot),
	}
}

// Bind evicts lock records for elements that leave the document, stopping
// their resize watchers with them.
func (g *Guard) Bind(doc *dom.Document) {
	doc.OnRemove(func(id uint64) {
		g.mu.Lock()
		snap, ok := g.snaps[id]
		if ok {
			delete(g.snaps, id)
		}
		g.mu.Unlock()
		if ok && snap.stop != nil {
			snap.stop()
		}
	})
}

// Lock captures el's current box and pins it with inline min-width and
// min-height. It is a no-op when the guard is disabled, the host cannot
// measure, the resize primitive is unavailable, the box has zero area, or
// the element is already locked.
func (g *Guard) Lock(el *dom.Element) {
	if !g.enabled || el == nil {
		return
	}
	metrics := el.Document().Metrics()
	if metrics == nil {
		return
	}
	ro, ok := metrics.(dom.ResizeObserver)
	if !ok {
		return
	}
	box, ok := metrics.Box(el)
	if !ok || box.Width <= 0 || box.Height <= 0 {
		return
	}

	g.mu.Lock()
	if _, locked := g.snaps[el.ID()]; locked {
		g.mu.Unlock()
		return
	}
	snap := &snapshot{
		box:       box,
		minWidth:  el.Style("min-width"),
		minHeight: el.Style("min-height"),
	}
	g.snaps[el.ID()] = snap
	g.mu.Unlock()

	el.SetStyle("min-width", px(box.Width))
	el.SetStyle("min-height", px(box.Height))

	stop, ok := ro.ObserveResize(el, func(b dom.Box) {
		g.mu.Lock()
		if s, live := g.snaps[el.ID()]; live {
			s.observed = append(s.observed, b)
		}
		g.mu.Unlock()
	})
	if ok {
		g.mu.Lock()
		if s, live := g.snaps[el.ID()]; live {
			s.stop = stop
		} else {
			// Unlocked between SetStyle and here; don't leak the watcher.
			g.mu.Unlock()
			stop()
			return
		}
		g.mu.Unlock()
	}
	g.logger.Debug("box locked", "element", el.String(),
		"width", box.Width, "height", box.Height)
}

// Unlock detaches the resize watcher and restores the original inline
// min-width/min-height. Original values may legitimately be empty, in
// which case the inline properties are removed. Unlocking an element that
// was never locked is a safe no-op, so teardown can call it blindly.
func (g *Guard) Unlock(el *dom.Element) {
	if el == nil {
		return
	}
	g.mu.Lock()
	snap, ok := g.snaps[el.ID()]
	if ok {
		delete(g.snaps, el.ID())
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	if snap.stop != nil {
		snap.stop()
	}

	restoreStyle(el, "min-width", snap.minWidth, snap.box.MinWidth)
	restoreStyle(el, "min-height", snap.minHeight, snap.box.MinHeight)
}

// restoreStyle puts one min-size property back: the pre-lock inline value
// wins, then the computed value the host reported, then removal.
func restoreStyle(el *dom.Element, prop, inline, computed string) {
	switch {
	case inline != "":
		el.SetStyle(prop, inline)
	case computed != "" && computed != "auto":
		el.SetStyle(prop, computed)
	default:
		el.RemoveStyle(prop)
	}
}

// Locked reports whether el currently holds a lock record.
func (g *Guard) Locked(el *dom.Element) bool {
	if el == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.snaps[el.ID()]
	return ok
}

// Observed returns the sizes the resize watcher recorded while el was
// locked. Diagnostic only.
func (g *Guard) Observed(el *dom.Element) []dom.Box {
	if el == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.snaps[el.ID()]
	if !ok {
		return nil
	}
	out := make([]dom.Box, len(snap.observed))
	copy(out, snap.observed)
	return out
}

// DetachAll stops every outstanding resize watcher while keeping the lock
// records, so a removal that is still in flight can restore its styles.
// Engine teardown path.
func (g *Guard) DetachAll() {
	g.mu.Lock()
	stops := make([]func(), 0, len(g.snaps))
	for _, snap := range g.snaps {
		if snap.stop != nil {
			stops = append(stops, snap.stop)
			snap.stop = nil
		}
	}
	g.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// UnlockAll releases every outstanding lock. Teardown path.
func (g *Guard) UnlockAll(doc *dom.Document) {
	g.mu.Lock()
	ids := make([]uint64, 0, len(g.snaps))
	for id := range g.snaps {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		if el := findByID(doc, id); el != nil {
			g.Unlock(el)
			continue
		}
		g.mu.Lock()
		snap, ok := g.snaps[id]
		delete(g.snaps, id)
		g.mu.Unlock()
		if ok && snap.stop != nil {
			snap.stop()
		}
	}
}

func findByID(doc *dom.Document, id uint64) *dom.Element {
	var found *dom.Element
	doc.EachElement(func(el *dom.Element) bool {
		if el.ID() == id {
			found = el
			return false
		}
		return true
	})
	return found
}

func px(v float64) string {
	return fmt.Sprintf("%gpx", v)
}
