// Package instrument drives the loading-state engine from asynchronous
// work without explicit Apply/Remove calls at every call site. The host
// opts in per mechanism: an http.RoundTripper wrapper for request-scoped
// loading, a two-phase Operation for hand-managed transfers, and
// document-level subscriptions for HTMX lifecycle events and form
// submissions.
//
// Typical usage:
//
//	client := &http.Client{Transport: ins.Transport(nil)}
//	req = req.WithContext(instrument.WithElement(req.Context(), panel))
//	resp, err := client.Do(req)
package instrument

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
	"github.com/hazyhaar/loadx/registry"
	"github.com/hazyhaar/loadx/schedule"
	"github.com/hazyhaar/loadx/strategy"
)

// HTMX lifecycle events the instrumentor subscribes to.
const (
	EventBeforeRequest = "htmx:beforeRequest"
	EventAfterSwap     = "htmx:afterSwap"
	EventAfterSettle   = "htmx:afterSettle"
)

// formFallbackDelay bounds loss of the cleanup signal for form
// submissions no other hook observes. Deliberately a heuristic: a
// legitimately slower request loses its indicator at the 5s mark.
const formFallbackDelay = 5 * time.Second

// ErrAborted settles an Operation that was cancelled by its caller.
var ErrAborted = errors.New("instrument: operation aborted")

// Deps carries the collaborators an Instrumentor drives. Obs may be nil
// for no telemetry.
type Deps struct {
	Doc      *dom.Document
	Cfg      *config.Config
	Resolver *notation.Resolver
	Strat    *strategy.Engine
	Sched    *schedule.Scheduler
	States   *registry.Registry
	Logger   *slog.Logger
	Prefix   string
	Obs      *observability.Tap
}

// Instrumentor hooks asynchronous work to loading states. Which
// mechanisms engage is governed by the config's auto-detect flags; a
// disabled mechanism costs nothing.
type Instrumentor struct {
	doc      *dom.Document
	cfg      *config.Config
	resolver *notation.Resolver
	strat    *strategy.Engine
	sched    *schedule.Scheduler
	states   *registry.Registry
	logger   *slog.Logger
	prefix   string
	obs      *observability.Tap

	mu       sync.Mutex
	unsubs   map[uint64]func()
	unsubSeq uint64
	closed   bool

	requests   atomic.Int64
	operations atomic.Int64
	htmxEvents atomic.Int64
	forms      atomic.Int64
	fallbacks  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Requests   int64 `json:"requests"`
	Operations int64 `json:"operations"`
	HTMXEvents int64 `json:"htmx_events"`
	Forms      int64 `json:"forms"`
	Fallbacks  int64 `json:"fallbacks"`
}

// New wires the document-level subscriptions (HTMX, forms) permitted by
// the auto-detect flags. Transport and Prepare consult their flags per
// call.
func New(d Deps) *Instrumentor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := d.Prefix
	if prefix == "" {
		prefix = notation.DefaultPrefix
	}
	ins := &Instrumentor{
		doc:      d.Doc,
		cfg:      d.Cfg,
		resolver: d.Resolver,
		strat:    d.Strat,
		sched:    d.Sched,
		states:   d.States,
		logger:   logger,
		prefix:   prefix,
		obs:      d.Obs,
	}

	flags := d.Cfg.AutoDetect()
	if flags.HTMX {
		ins.track(d.Doc.On(EventBeforeRequest, ins.onHTMXBefore))
		ins.track(d.Doc.On(EventAfterSwap, ins.onHTMXSwap))
		ins.track(d.Doc.On(EventAfterSettle, ins.onHTMXSettle))
	}
	if flags.Forms {
		ins.track(d.Doc.On("submit", ins.onSubmit))
	}
	return ins
}

// Stats returns the current counters.
func (i *Instrumentor) Stats() Stats {
	return Stats{
		Requests:   i.requests.Load(),
		Operations: i.operations.Load(),
		HTMXEvents: i.htmxEvents.Load(),
		Forms:      i.forms.Load(),
		Fallbacks:  i.fallbacks.Load(),
	}
}

// Close detaches every document listener. Idempotent; in-flight
// operations keep their scheduler-side cleanup.
func (i *Instrumentor) Close() {
	i.mu.Lock()
	unsubs := i.unsubs
	i.unsubs = nil
	i.closed = true
	i.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// track registers a listener teardown and returns a token for untrack.
// One-shot listeners untrack themselves once fired, so the set stays
// bounded by what is still live.
func (i *Instrumentor) track(unsub func()) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		unsub()
		return 0
	}
	if i.unsubs == nil {
		i.unsubs = make(map[uint64]func())
	}
	i.unsubSeq++
	i.unsubs[i.unsubSeq] = unsub
	return i.unsubSeq
}

func (i *Instrumentor) untrack(token uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.unsubs, token)
}

// activate resolves el's notation and puts the loading state up,
// recording the activation instant for the minimum-display floor. False
// means el carried no usable configuration.
func (i *Instrumentor) activate(el *dom.Element) bool {
	if el == nil {
		return false
	}
	opts, err := i.resolver.Resolve(el)
	if err != nil {
		i.logger.Warn("instrument: loading config rejected", "element", el.String(), "error", err)
		return false
	}
	i.strat.Apply(el, opts)
	i.sched.Activate(el.ID())
	return true
}

// scheduleRemoval routes cleanup through the minimum-display scheduler.
func (i *Instrumentor) scheduleRemoval(el *dom.Element) {
	if el == nil {
		return
	}
	i.obs.RemoveRequested(el.String(), i.strat.Active(el))
	minDisplay := time.Duration(i.cfg.MinDisplayMS()) * time.Millisecond
	i.sched.RequestRemoval(el.ID(), minDisplay, func() {
		i.strat.Remove(el)
	})
}

// trigger resolves the element an otherwise-anonymous request should
// drive: the focused element, or its nearest ancestor below body that
// declares loading notation. Nil means the request runs uninstrumented.
func (i *Instrumentor) trigger() *dom.Element {
	for el := i.doc.Focused(); el != nil; el = el.Parent() {
		if el.Tag() == "body" {
			return nil
		}
		if notation.Declared(el, i.prefix) {
			return el
		}
	}
	return nil
}

// ---------- request transport ----------

type elementKey struct{}

// WithElement pins the element a round trip drives, overriding
// focus-based trigger resolution.
func WithElement(ctx context.Context, el *dom.Element) context.Context {
	return context.WithValue(ctx, elementKey{}, el)
}

// ElementFrom returns the element pinned by WithElement, nil when unset.
func ElementFrom(ctx context.Context) *dom.Element {
	el, _ := ctx.Value(elementKey{}).(*dom.Element)
	return el
}

// Transport wraps base so every round trip shows a loading state on its
// triggering element. A nil base wraps http.DefaultTransport. When fetch
// auto-detection is off, base is returned untouched.
func (i *Instrumentor) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !i.cfg.AutoDetect().Fetch {
		return base
	}
	return &roundTripper{ins: i, base: base}
}

type roundTripper struct {
	ins  *Instrumentor
	base http.RoundTripper
}

// RoundTrip puts the loading state up before delegating and requests
// scheduler-mediated removal as soon as the round trip returns, success
// and failure alike. Body streaming does not extend the loading state.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	el := ElementFrom(req.Context())
	if el == nil {
		el = rt.ins.trigger()
	}
	if el == nil || !rt.ins.activate(el) {
		return rt.base.RoundTrip(req)
	}
	rt.ins.requests.Add(1)

	resp, err := rt.base.RoundTrip(req)
	rt.ins.scheduleRemoval(el)
	rt.ins.obs.Operation(el.String(), "fetch", err)
	return resp, err
}

// ---------- two-phase operations ----------

// Operation is a hand-managed transfer: Prepare captures the element,
// Send puts the loading state up, and exactly one of Settle or Abort
// takes it down through the scheduler. Extra settle calls are no-ops.
type Operation struct {
	ins     *Instrumentor
	el      *dom.Element
	sent    atomic.Bool
	settled atomic.Bool
}

// Prepare captures the element an operation will drive. A nil el falls
// back to focus-based trigger resolution. The returned Operation is
// inert, but safe to use, when XHR auto-detection is off or no element
// resolves.
func (i *Instrumentor) Prepare(el *dom.Element) *Operation {
	if !i.cfg.AutoDetect().XHR {
		return &Operation{}
	}
	if el == nil {
		el = i.trigger()
	}
	if el == nil {
		return &Operation{}
	}
	return &Operation{ins: i, el: el}
}

// Send applies the loading state and starts the minimum-display window.
func (op *Operation) Send() {
	if op.el == nil || op.sent.Swap(true) {
		return
	}
	if !op.ins.activate(op.el) {
		op.el = nil
		return
	}
	op.ins.operations.Add(1)
}

// Settle requests scheduler-mediated cleanup. Completion, failure, and
// abort all converge here; only the first call after Send does anything.
func (op *Operation) Settle(err error) {
	if op.el == nil || !op.sent.Load() || op.settled.Swap(true) {
		return
	}
	if err != nil {
		op.ins.logger.Debug("instrument: operation settled with error", "element", op.el.String(), "error", err)
	}
	op.ins.scheduleRemoval(op.el)
	op.ins.obs.Operation(op.el.String(), "xhr", err)
}

// Abort settles the operation as cancelled.
func (op *Operation) Abort() {
	op.Settle(ErrAborted)
}

// ---------- HTMX ----------

func (i *Instrumentor) onHTMXBefore(ev dom.Event) {
	if i.activate(ev.Target) {
		i.htmxEvents.Add(1)
	}
}

func (i *Instrumentor) onHTMXSwap(ev dom.Event) {
	if ev.Target == nil {
		return
	}
	i.scheduleRemoval(ev.Target)
	i.obs.Operation(ev.Target.String(), "htmx", nil)
}

// onHTMXSettle is the defensive double cleanup: afterSwap may never
// fire, so settle tears the state down immediately and unconditionally,
// dropping any removal still pending for the element.
func (i *Instrumentor) onHTMXSettle(ev dom.Event) {
	if ev.Target == nil {
		return
	}
	i.sched.Cancel(ev.Target.ID())
	i.strat.Remove(ev.Target)
}

// ---------- forms ----------

// onSubmit activates loading on the submit control (the form itself when
// no control holds focus) and bounds the cleanup signal. Client-handled
// actions (absent, empty, "#") rely on the transport or operation hooks
// for real cleanup; native posts get a pagehide listener for the unload
// race. Both get the defensive fallback timer, stored on the state so
// any earlier real cleanup cancels it.
func (i *Instrumentor) onSubmit(ev dom.Event) {
	form := ev.Target
	if form == nil {
		return
	}
	el := i.submitControl(form)
	if !i.activate(el) {
		return
	}
	i.forms.Add(1)

	fb := i.sched.After(formFallbackDelay, func() {
		i.fallbacks.Add(1)
		i.obs.Fallback(el.String())
		i.logger.Debug("instrument: form fallback fired", "element", el.String())
		i.scheduleRemoval(el)
	})
	if st, ok := i.states.Get(el); ok {
		if st.Fallback != nil {
			st.Fallback.Cancel()
		}
		st.Fallback = fb
	}

	action := strings.TrimSpace(form.Attr("action"))
	if action != "" && action != "#" {
		var token uint64
		off := i.doc.Once("pagehide", func(dom.Event) {
			i.untrack(token)
			i.scheduleRemoval(el)
			i.obs.Operation(el.String(), "form", nil)
		})
		token = i.track(off)
	}
}

// submitControl picks the element a submission should mark busy: the
// focused control inside the form, else the form.
func (i *Instrumentor) submitControl(form *dom.Element) *dom.Element {
	if focused := i.doc.Focused(); focused != nil && focused.Closest("form") == form {
		return focused
	}
	return form
}
