// Package engine wires the loading-state subsystems together behind one
// front door: notation resolution, the strategy state machine, minimum
// display scheduling, ARIA announcements, async instrumentation and the
// DOM watcher, all configured from a single normalized config.
//
// Typical usage:
//
//	doc, err := dom.ParseString(page)
//	if err != nil {
//		return err
//	}
//	eng, err := engine.New(doc, &config.Options{MinDisplayMS: 300})
//	if err != nil {
//		return err
//	}
//	defer eng.Disconnect()
//
//	el := doc.GetByID("cart")
//	eng.Apply(el)
//	// ... async work ...
//	eng.Remove(el)
//
// Each engine owns one document. Two engines over two documents are
// fully independent. A second engine over the same document shares the
// live region, which is created once and reused, but nothing else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/hazyhaar/loadx/announce"
	"github.com/hazyhaar/loadx/clsguard"
	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/instrument"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
	"github.com/hazyhaar/loadx/registry"
	"github.com/hazyhaar/loadx/schedule"
	"github.com/hazyhaar/loadx/strategy"
	"github.com/hazyhaar/loadx/watch"
)

// Option tunes collaborators that the config struct does not cover.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	clock    clockz.Clock
	cache    notation.Cache
	metrics  dom.Metrics
	recorder observability.Recorder
}

// WithLogger routes the engine's and every subsystem's logging through l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock substitutes the wall clock. Tests pair this with a fake
// clock to drive minimum-display and debounce timing deterministically.
func WithClock(c clockz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCache installs a notation lookup cache shared across resolutions.
func WithCache(c notation.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithMetrics attaches a layout metrics provider to the document, which
// lets the CLS guard reserve real dimensions instead of estimates.
func WithMetrics(m dom.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder adds a sink for lifecycle events on top of the signal
// bus. It only takes effect when telemetry is enabled in the config.
// The engine never closes the recorder; its lifetime is the caller's.
func WithRecorder(r observability.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// Engine is the assembled loading-state system for one document.
type Engine struct {
	doc      *dom.Document
	cfg      *config.Config
	log      *slog.Logger
	states   *registry.Registry
	sched    *schedule.Scheduler
	ann      *announce.Announcer
	guard    *clsguard.Guard
	strat    *strategy.Engine
	resolver *notation.Resolver
	ins      *instrument.Instrumentor
	watcher  *watch.Watcher
	obs      *observability.Tap

	stopWatch context.CancelFunc
	off       sync.Once

	warnShow sync.Once
	warnHide sync.Once
	warnSet  sync.Once
}

// New normalizes opts, assembles the subsystems over doc and starts the
// DOM watcher. Invalid options fail construction; a nil opts means all
// defaults. The live region exists in doc by the time New returns.
func New(doc *dom.Document, opts *config.Options, extra ...Option) (*Engine, error) {
	if doc == nil {
		return nil, errors.New("engine: nil document")
	}
	cfg, err := config.Normalize(opts)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	o := options{logger: slog.Default(), clock: clockz.RealClock}
	for _, fn := range extra {
		fn(&o)
	}
	if o.metrics != nil {
		doc.SetMetrics(o.metrics)
	}

	var tap *observability.Tap
	if cfg.Telemetry() {
		tap = observability.NewTap(o.recorder)
	}

	states := registry.New()
	states.Bind(doc)
	sched := schedule.New(o.clock)

	ann := announce.New(doc, sched, "", o.logger)
	ann.Region()

	guard := clsguard.New(cfg.PreventCLS(), o.logger)
	guard.Bind(doc)

	strat := strategy.New(strategy.Deps{
		Doc:       doc,
		Cfg:       cfg,
		Guard:     guard,
		Announcer: ann,
		States:    states,
		Sched:     sched,
		Logger:    o.logger,
		Obs:       tap,
	})

	resolver := &notation.Resolver{
		Cache:   o.cache,
		Modern:  cfg.ModernSyntax(),
		Silence: cfg.SilenceDeprecations(),
		Logger:  o.logger,
	}

	e := &Engine{
		doc:      doc,
		cfg:      cfg,
		log:      o.logger,
		states:   states,
		sched:    sched,
		ann:      ann,
		guard:    guard,
		strat:    strat,
		resolver: resolver,
		obs:      tap,
	}

	e.ins = instrument.New(instrument.Deps{
		Doc:      doc,
		Cfg:      cfg,
		Resolver: resolver,
		Strat:    strat,
		Sched:    sched,
		States:   states,
		Logger:   o.logger,
		Obs:      tap,
	})

	e.watcher = watch.New(doc, resolver, e.activate, watch.Options{
		Clock:  o.clock,
		Logger: o.logger,
		Obs:    tap,
	})
	ctx, cancel := context.WithCancel(context.Background())
	e.stopWatch = cancel
	go e.watcher.Run(ctx)

	o.logger.Debug("engine ready",
		"minDisplayMs", cfg.MinDisplayMS(),
		"strategies", cfg.Strategies(),
		"telemetry", cfg.Telemetry())
	return e, nil
}

// Config returns the normalized configuration the engine runs with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the live element-state registry.
func (e *Engine) Registry() *registry.Registry { return e.states }

// Document returns the document this engine operates on.
func (e *Engine) Document() *dom.Document { return e.doc }

func (e *Engine) activate(el *dom.Element, opts notation.Options) {
	e.strat.Apply(el, opts)
	e.sched.Activate(el.ID())
}

// Apply puts a loading state on el. With no explicit options the
// element's own notation decides; a rejected notation logs a warning
// and falls back to the default strategy rather than failing the call.
func (e *Engine) Apply(el *dom.Element, opts ...notation.Options) {
	if el == nil {
		return
	}
	var o notation.Options
	if len(opts) > 0 {
		o = opts[0]
	} else if resolved, err := e.resolver.Resolve(el); err != nil {
		e.log.Warn("engine: notation rejected, applying defaults",
			"element", el.String(), "error", err)
	} else {
		o = resolved
	}
	e.activate(el, o)
}

// Remove schedules the loading state off el. The restore fires once the
// configured minimum display time has elapsed since activation, or
// immediately when it already has. Unknown elements are a no-op.
func (e *Engine) Remove(el *dom.Element) {
	if el == nil {
		return
	}
	e.obs.RemoveRequested(el.String(), e.strat.Active(el))
	minDisplay := time.Duration(e.cfg.MinDisplayMS()) * time.Millisecond
	e.sched.RequestRemoval(el.ID(), minDisplay, func() {
		e.strat.Remove(el)
	})
}

// Update pushes a progress value to el. Only elements under the
// progress strategy change; everything else ignores it.
func (e *Engine) Update(el *dom.Element, value float64) {
	if el == nil {
		return
	}
	e.strat.Update(el, value)
}

// Announce speaks message through the shared live region. The source
// element, which may be nil, decides politeness via its urgency
// attribute.
func (e *Engine) Announce(message string, source *dom.Element) {
	level := e.ann.Announce(message, source)
	e.obs.Announced(message, level)
}

// Transport wraps base so HTTP round trips tied to loading elements
// resolve their states on completion. A nil base means the default
// transport.
func (e *Engine) Transport(base http.RoundTripper) http.RoundTripper {
	return e.ins.Transport(base)
}

// Prepare opens a manually settled operation against el, the analogue
// of instrumenting a raw XHR.
func (e *Engine) Prepare(el *dom.Element) *instrument.Operation {
	return e.ins.Prepare(el)
}

// Stats aggregates the counters of the engine's subsystems.
type Stats struct {
	Active     int              `json:"active"`
	Evictions  uint64           `json:"evictions"`
	Watch      watch.Stats      `json:"watch"`
	Instrument instrument.Stats `json:"instrument"`
	Scheduler  schedule.Stats   `json:"scheduler"`
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Active:     e.states.Len(),
		Evictions:  e.states.Evictions(),
		Watch:      e.watcher.Stats(),
		Instrument: e.ins.Stats(),
		Scheduler:  e.sched.Snapshot(),
	}
}

// Disconnect tears the engine down: the watcher stops, instrumentation
// detaches from the document, pending timers cancel, deferred fade
// cleanups run to completion and outstanding resize watchers detach.
// Safe to call more than once. The document and any recorder stay open;
// both belong to the caller.
func (e *Engine) Disconnect() {
	e.off.Do(func() {
		e.stopWatch()
		e.ins.Close()
		e.sched.Stop()
		e.strat.Stop()
		e.guard.DetachAll()
		e.log.Debug("engine disconnected")
	})
}

// ShowLoading applies a loading state.
//
// Deprecated: use Apply. Kept for callers of the old surface; warns
// once per engine.
func (e *Engine) ShowLoading(el *dom.Element, opts ...notation.Options) {
	e.warnShow.Do(func() {
		e.log.Warn("ShowLoading is deprecated, use Apply")
	})
	e.Apply(el, opts...)
}

// HideLoading removes a loading state.
//
// Deprecated: use Remove. Kept for callers of the old surface; warns
// once per engine.
func (e *Engine) HideLoading(el *dom.Element) {
	e.warnHide.Do(func() {
		e.log.Warn("HideLoading is deprecated, use Remove")
	})
	e.Remove(el)
}

// SetProgress pushes a progress value.
//
// Deprecated: use Update. Kept for callers of the old surface; warns
// once per engine.
func (e *Engine) SetProgress(el *dom.Element, value float64) {
	e.warnSet.Do(func() {
		e.log.Warn("SetProgress is deprecated, use Update")
	})
	e.Update(el, value)
}
