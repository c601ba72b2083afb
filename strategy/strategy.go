// Package strategy applies and removes the four visual loading states:
// spinner, skeleton, progress, and fade.
//
// Every application snapshots the element's markup into recoverable
// attributes before touching it, so removal can put back exactly what was
// there, even across engine restarts that lost the in-memory registry.
// Removal always follows the strategy that was actually applied, never
// whatever the caller believes is active.
package strategy

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/loadx/announce"
	"github.com/hazyhaar/loadx/clsguard"
	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
	"github.com/hazyhaar/loadx/registry"
	"github.com/hazyhaar/loadx/schedule"
)

// LoadedMessage is announced to the live region when a state comes down.
const LoadedMessage = "Content loaded"

// known are the strategies with appliers; anything else falls back to
// spinner at dispatch time.
var known = map[string]bool{
	"spinner":  true,
	"skeleton": true,
	"progress": true,
	"fade":     true,
}

// Deps wires an Engine. Doc, Cfg, Guard, Announcer, States and Sched are
// required; Logger and Prefix default. Obs may be nil for no telemetry.
type Deps struct {
	Doc       *dom.Document
	Cfg       *config.Config
	Guard     *clsguard.Guard
	Announcer *announce.Announcer
	States    *registry.Registry
	Sched     *schedule.Scheduler
	Logger    *slog.Logger
	Prefix    string
	Obs       *observability.Tap
}

// Engine is the loading-state state machine. Elements move Idle -> Active
// -> Idle; the active strategy and the pre-apply snapshot ride along in
// recoverable attributes and the registry.
type Engine struct {
	doc    *dom.Document
	cfg    *config.Config
	guard  *clsguard.Guard
	ann    *announce.Announcer
	states *registry.Registry
	sched  *schedule.Scheduler
	logger *slog.Logger
	prefix string
	obs    *observability.Tap

	sanitize *bluemonday.Policy

	mu           sync.Mutex
	fadeCleanups map[uint64]*fadeCleanup
}

// fadeCleanup is one pending deferred fade teardown. finish performs the
// marker/style cleanup; it runs either when the timer fires or, for an
// early re-apply, synchronously after cancelling the timer so the element
// is clean before the next strategy goes up.
type fadeCleanup struct {
	task   *schedule.Task
	finish func()
}

// New builds a strategy engine and hooks its fade-cleanup table to the
// document's eviction feed.
func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := d.Prefix
	if prefix == "" {
		prefix = notation.DefaultPrefix
	}
	e := &Engine{
		doc:          d.Doc,
		cfg:          d.Cfg,
		guard:        d.Guard,
		ann:          d.Announcer,
		states:       d.States,
		sched:        d.Sched,
		logger:       logger,
		prefix:       prefix,
		obs:          d.Obs,
		sanitize:     bluemonday.StrictPolicy(),
		fadeCleanups: make(map[uint64]*fadeCleanup),
	}
	d.Doc.OnRemove(func(id uint64) {
		e.mu.Lock()
		fc := e.fadeCleanups[id]
		delete(e.fadeCleanups, id)
		e.mu.Unlock()
		if fc != nil {
			fc.task.Cancel()
		}
	})
	return e
}

// Recoverable attribute and marker class names, prefix-scoped.
func (e *Engine) attrOriginal() string { return "data-" + e.prefix + "-original" }
func (e *Engine) attrActive() string   { return "data-" + e.prefix + "-active" }
func (e *Engine) busyClass() string    { return e.prefix + "-busy" }

// Apply installs a loading state on el. Unknown strategy names fall back
// to spinner. Applying over an element that is already loading replaces
// the visual state while keeping the original snapshot, so the eventual
// removal still restores the true pre-loading markup.
func (e *Engine) Apply(el *dom.Element, opts notation.Options) {
	if el == nil {
		return
	}
	name := notation.NormalizeStrategy(opts.Strategy)
	if !known[name] {
		e.logger.Debug("unknown strategy, using spinner", "strategy", name, "element", el.String())
		name = "spinner"
	}

	snapshot := el.InnerHTML()
	styles := map[string]string{}
	if prev, ok := e.states.Get(el); ok {
		// Re-apply over an active state: the current markup is ours,
		// not the host's. Keep the first snapshot and saved styles.
		snapshot = prev.Snapshot
		for k, v := range prev.Styles {
			styles[k] = v
		}
		if prev.Fallback != nil {
			prev.Fallback.Cancel()
		}
		e.cancelFadeCleanup(el)
		el.RemoveClass(e.busyClass() + "-" + prev.Strategy)
	} else if el.HasAttr(e.attrOriginal()) {
		// Either a fade removal is mid-transition or the registry was
		// lost under old markup. Finish any pending fade cleanup now so
		// its stale markers and styles cannot bleed into this cycle,
		// and recover the true content from the attribute.
		snapshot = el.Attr(e.attrOriginal())
		e.cancelFadeCleanup(el)
		if old := el.Attr(e.attrActive()); old != "" {
			el.RemoveClass(e.busyClass() + "-" + old)
		}
	}

	el.SetAttr("aria-busy", "true")
	if e.cfg.PreventCLS() {
		e.guard.Lock(el)
	}

	el.SetAttr(e.attrOriginal(), snapshot)
	el.SetAttr(e.attrActive(), name)
	el.AddClass(e.busyClass())
	el.AddClass(e.busyClass() + "-" + name)

	switch name {
	case "skeleton":
		e.applySkeleton(el, opts)
	case "progress":
		e.applyProgress(el, opts)
	case "fade":
		e.applyFade(el, opts, styles)
	default:
		e.applySpinner(el, opts, styles)
	}

	e.states.Put(el, &registry.State{
		Strategy:    name,
		Options:     opts,
		ActivatedAt: e.sched.Now(),
		Snapshot:    snapshot,
		Styles:      styles,
	})
	e.obs.Applied(el.String(), name)
	e.logger.Debug("loading state applied", "strategy", name, "element", el.String())
}

// Remove tears down whatever state was recorded on el. The recorded
// strategy name wins over anything the caller thinks is active. Removing
// an element with no recorded state only clears the aria-busy bookkeeping.
func (e *Engine) Remove(el *dom.Element) {
	if el == nil {
		return
	}
	name := el.Attr(e.attrActive())
	st, hasState := e.states.Get(el)
	if name == "" && hasState {
		name = st.Strategy
	}
	if name == "" {
		el.RemoveAttr("aria-busy")
		return
	}

	snapshot := el.Attr(e.attrOriginal())
	var styles map[string]string
	var elapsed time.Duration
	if hasState {
		snapshot = st.Snapshot
		styles = st.Styles
		elapsed = e.sched.Now().Sub(st.ActivatedAt)
		if st.Fallback != nil {
			st.Fallback.Cancel()
		}
	}

	if name == "fade" {
		e.removeFade(el, snapshot, styles)
	} else {
		e.restore(el, name, snapshot, styles)
	}

	e.states.Delete(el)
	e.ann.Announce(LoadedMessage, el)
	e.obs.RemoveCompleted(el.String(), name, elapsed)
	e.logger.Debug("loading state removed", "strategy", name, "element", el.String())
}

// restore is the common removal path: snapshot back, markers and
// recoverable attributes off, saved styles back, guard unlocked.
func (e *Engine) restore(el *dom.Element, name, snapshot string, styles map[string]string) {
	if err := el.SetInnerHTML(snapshot); err != nil {
		e.logger.Warn("snapshot restore failed", "element", el.String(), "error", err)
	}
	e.stripMarkers(el, name)
	restoreStyles(el, styles)
	e.guard.Unlock(el)
	el.RemoveAttr("aria-busy")
}

func (e *Engine) stripMarkers(el *dom.Element, name string) {
	el.RemoveClass(e.busyClass() + "-" + name)
	el.RemoveClass(e.busyClass())
	el.RemoveAttr(e.attrActive())
	el.RemoveAttr(e.attrOriginal())
}

func restoreStyles(el *dom.Element, styles map[string]string) {
	for prop, val := range styles {
		if val == "" {
			el.RemoveStyle(prop)
		} else {
			el.SetStyle(prop, val)
		}
	}
}

// Update mutates an active progress bar's fill and label in place. It is a
// no-op unless el has recorded progress state; it never re-applies the
// strategy.
func (e *Engine) Update(el *dom.Element, value float64) {
	if el == nil {
		return
	}
	st, ok := e.states.Get(el)
	if !ok || st.Strategy != "progress" {
		return
	}
	max := 100.0
	if st.Options.Max != nil && *st.Options.Max > 0 {
		max = *st.Options.Max
	}
	pct := clampPct(value, max)

	if fill := el.Find("." + e.prefix + "-progress-fill"); fill != nil {
		fill.SetStyle("width", pctString(pct)+"%")
	}
	if label := el.Find("." + e.prefix + "-progress-label"); label != nil {
		label.SetText(pctString(pct) + "%")
	}
	if bar := el.Find("." + e.prefix + "-progress"); bar != nil {
		bar.SetAttr("aria-valuenow", pctString(pct))
	}
	e.obs.Progress(el.String(), int(math.Round(pct)))
}

// Active reports the recorded strategy for el, empty when idle.
func (e *Engine) Active(el *dom.Element) string {
	if el == nil {
		return ""
	}
	return el.Attr(e.attrActive())
}

// Stop flushes every deferred fade cleanup synchronously. Teardown path;
// elements come out fully unmarked rather than frozen mid-transition.
func (e *Engine) Stop() {
	e.mu.Lock()
	pending := make([]*fadeCleanup, 0, len(e.fadeCleanups))
	for _, fc := range e.fadeCleanups {
		pending = append(pending, fc)
	}
	e.fadeCleanups = make(map[uint64]*fadeCleanup)
	e.mu.Unlock()
	for _, fc := range pending {
		if fc.task.Cancel() {
			fc.finish()
		}
	}
}

// cancelFadeCleanup stops a pending fade teardown and, when the timer had
// not fired yet, runs the cleanup work immediately.
func (e *Engine) cancelFadeCleanup(el *dom.Element) {
	e.mu.Lock()
	fc := e.fadeCleanups[el.ID()]
	delete(e.fadeCleanups, el.ID())
	e.mu.Unlock()
	if fc != nil && fc.task.Cancel() {
		fc.finish()
	}
}

func (e *Engine) reducedMotion() bool {
	env := e.doc.Environment()
	return env != nil && env.ReducedMotion()
}

// message runs caller-supplied text through the strict sanitizer; the
// result carries no markup at all.
func (e *Engine) message(raw string) string {
	return e.sanitize.Sanitize(raw)
}
