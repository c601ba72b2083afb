package instrument

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/hazyhaar/loadx/announce"
	"github.com/hazyhaar/loadx/clsguard"
	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
	"github.com/hazyhaar/loadx/registry"
	"github.com/hazyhaar/loadx/schedule"
	"github.com/hazyhaar/loadx/strategy"
)

// eventSink collects telemetry events for assertions.
type eventSink struct {
	mu  sync.Mutex
	evs []observability.Event
}

func (s *eventSink) Record(ev observability.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
}

func (s *eventSink) byPhase(p observability.Phase) []observability.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []observability.Event
	for _, ev := range s.evs {
		if ev.Phase == p {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	doc    *dom.Document
	clock  *clockz.FakeClock
	states *registry.Registry
	strat  *strategy.Engine
	ins    *Instrumentor
	sink   *eventSink
}

func newFixture(t *testing.T, body string, opts *config.Options) *fixture {
	t.Helper()
	d, err := dom.ParseString(`<html><body>` + body + `</body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg, err := config.Normalize(opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	clock := clockz.NewFakeClock()
	sched := schedule.New(clock)
	states := registry.New()
	states.Bind(d)
	strat := strategy.New(strategy.Deps{
		Doc:       d,
		Cfg:       cfg,
		Guard:     clsguard.New(cfg.PreventCLS(), nil),
		Announcer: announce.New(d, sched, "lx", nil),
		States:    states,
		Sched:     sched,
	})
	sink := &eventSink{}
	ins := New(Deps{
		Doc:      d,
		Cfg:      cfg,
		Resolver: &notation.Resolver{},
		Strat:    strat,
		Sched:    sched,
		States:   states,
		Logger:   nil,
		Obs:      observability.NewTap(sink),
	})
	return &fixture{doc: d, clock: clock, states: states, strat: strat, ins: ins, sink: sink}
}

func settle(clock *clockz.FakeClock) {
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestTransportAppliesDuringRoundTrip(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="spinner">idle</div>`, nil)
	el := f.doc.GetByID("panel")

	var busyMidFlight bool
	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		busyMidFlight = el.Attr("aria-busy") == "true"
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})

	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	req = req.WithContext(WithElement(req.Context(), el))
	if _, err := f.ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	if !busyMidFlight {
		t.Error("element not busy during round trip")
	}
	// minDisplay defaults to zero, so removal is synchronous.
	if el.HasAttr("aria-busy") {
		t.Error("loading state survived round trip")
	}
	if got := f.ins.Stats().Requests; got != 1 {
		t.Errorf("requests: got %d, want 1", got)
	}
}

func TestTransportRemovesOnFailureToo(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="spinner">idle</div>`, nil)
	el := f.doc.GetByID("panel")

	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	req = req.WithContext(WithElement(req.Context(), el))

	if _, err := f.ins.Transport(base).RoundTrip(req); err == nil {
		t.Fatal("expected transport error")
	}
	if el.HasAttr("aria-busy") {
		t.Error("loading state survived failed round trip")
	}
}

func TestTransportHonorsMinDisplay(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="spinner">idle</div>`,
		&config.Options{MinDisplayMS: 300})
	el := f.doc.GetByID("panel")

	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	req = req.WithContext(WithElement(req.Context(), el))
	if _, err := f.ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	if !el.HasAttr("aria-busy") {
		t.Fatal("loading state removed before the minimum display window")
	}
	f.clock.Advance(300 * time.Millisecond)
	settle(f.clock)
	if el.HasAttr("aria-busy") {
		t.Error("loading state survived the minimum display window")
	}
}

func TestTransportFocusTrigger(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="skeleton"><button id="go">go</button></div>`, nil)
	f.doc.SetFocus(f.doc.GetByID("go"))

	var applied string
	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		applied = f.doc.GetByID("panel").Attr("data-lx-active")
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	if _, err := f.ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	// The button declares nothing; its annotated ancestor is the trigger.
	if applied != "skeleton" {
		t.Errorf("ancestor strategy during flight: got %q, want skeleton", applied)
	}
}

func TestTransportSkipsWithoutTrigger(t *testing.T) {
	f := newFixture(t, `<div id="panel"><button id="go">go</button></div>`, nil)
	f.doc.SetFocus(f.doc.GetByID("go"))

	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	if _, err := f.ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	if f.states.Len() != 0 {
		t.Errorf("states after uninstrumented request: %d", f.states.Len())
	}
	if got := f.ins.Stats().Requests; got != 0 {
		t.Errorf("requests: got %d, want 0", got)
	}
}

func TestTransportBodyExcludedFromTriggerWalk(t *testing.T) {
	// Notation on body must not make it a trigger.
	d, err := dom.ParseString(`<html><body lx-strategy="spinner"><button id="go">go</button></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg, _ := config.Normalize(nil)
	clock := clockz.NewFakeClock()
	sched := schedule.New(clock)
	states := registry.New()
	strat := strategy.New(strategy.Deps{
		Doc: d, Cfg: cfg,
		Guard:     clsguard.New(false, nil),
		Announcer: announce.New(d, sched, "lx", nil),
		States:    states, Sched: sched,
	})
	ins := New(Deps{Doc: d, Cfg: cfg, Resolver: &notation.Resolver{}, Strat: strat, Sched: sched, States: states})
	d.SetFocus(d.GetByID("go"))

	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	if _, err := ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if d.Body().Attr("aria-busy") == "true" {
		t.Error("body used as trigger")
	}
}

func TestTransportDisabledReturnsBase(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`,
		&config.Options{AutoDetect: map[string]any{"fetch": false}})
	base := &http.Transport{}
	if got := f.ins.Transport(base); got != http.RoundTripper(base) {
		t.Error("disabled transport wrapped the base anyway")
	}
}

func TestTransportNilBase(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`,
		&config.Options{AutoDetect: map[string]any{"fetch": false}})
	if got := f.ins.Transport(nil); got != http.DefaultTransport {
		t.Error("nil base did not default")
	}
}

func TestOperationLifecycle(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="progress" lx-value="10">x</div>`, nil)
	el := f.doc.GetByID("t")

	op := f.ins.Prepare(el)
	if el.HasAttr("aria-busy") {
		t.Error("Prepare applied the state")
	}

	op.Send()
	if got := el.Attr("data-lx-active"); got != "progress" {
		t.Errorf("after Send: got %q, want progress", got)
	}

	op.Settle(nil)
	if el.HasAttr("aria-busy") {
		t.Error("state survived Settle")
	}
	if got := f.ins.Stats().Operations; got != 1 {
		t.Errorf("operations: got %d, want 1", got)
	}
}

func TestOperationSettlePathsConverge(t *testing.T) {
	for _, name := range []string{"success", "failure", "abort"} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`, nil)
			el := f.doc.GetByID("t")
			op := f.ins.Prepare(el)
			op.Send()
			switch name {
			case "success":
				op.Settle(nil)
			case "failure":
				op.Settle(errors.New("boom"))
			case "abort":
				op.Abort()
			}
			if el.HasAttr("aria-busy") {
				t.Error("state survived settle")
			}
		})
	}
}

func TestOperationDoubleSettle(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`, nil)
	el := f.doc.GetByID("t")
	op := f.ins.Prepare(el)
	op.Send()
	op.Settle(nil)
	op.Abort() // second settle, must not disturb anything
	op.Settle(errors.New("late"))
	if el.HasAttr("aria-busy") || f.states.Len() != 0 {
		t.Error("double settle disturbed the document")
	}
}

func TestOperationSettleBeforeSend(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`, nil)
	op := f.ins.Prepare(f.doc.GetByID("t"))
	op.Settle(nil) // nothing was applied
	if f.states.Len() != 0 {
		t.Errorf("states: got %d, want 0", f.states.Len())
	}
}

func TestOperationDisabled(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`,
		&config.Options{AutoDetect: map[string]any{"xhr": false}})
	el := f.doc.GetByID("t")
	op := f.ins.Prepare(el)
	op.Send()
	if el.HasAttr("aria-busy") {
		t.Error("disabled operation applied a state")
	}
	op.Settle(nil)
}

func TestHTMXLifecycle(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`,
		&config.Options{MinDisplayMS: 200})
	el := f.doc.GetByID("t")

	f.doc.Dispatch(dom.Event{Type: EventBeforeRequest, Target: el})
	if !el.HasAttr("aria-busy") {
		t.Fatal("beforeRequest did not activate")
	}

	f.doc.Dispatch(dom.Event{Type: EventAfterSwap, Target: el})
	if !el.HasAttr("aria-busy") {
		t.Fatal("afterSwap removed before the minimum display window")
	}

	f.clock.Advance(200 * time.Millisecond)
	settle(f.clock)
	if el.HasAttr("aria-busy") {
		t.Error("scheduled removal never fired")
	}
	if got := f.ins.Stats().HTMXEvents; got != 1 {
		t.Errorf("htmx events: got %d, want 1", got)
	}
}

func TestHTMXSettleFinalCleanup(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`,
		&config.Options{MinDisplayMS: 500})
	el := f.doc.GetByID("t")

	f.doc.Dispatch(dom.Event{Type: EventBeforeRequest, Target: el})
	// afterSwap never fires; afterSettle still tears everything down.
	f.doc.Dispatch(dom.Event{Type: EventAfterSettle, Target: el})

	if el.HasAttr("aria-busy") {
		t.Error("afterSettle left the state up")
	}
	if _, ok := f.states.Get(el); ok {
		t.Error("registry entry survived afterSettle")
	}

	// No stale scheduled removal may fire later.
	f.clock.Advance(time.Second)
	settle(f.clock)
}

func TestHTMXSettleDropsPendingRemoval(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`,
		&config.Options{MinDisplayMS: 500})
	el := f.doc.GetByID("t")

	f.doc.Dispatch(dom.Event{Type: EventBeforeRequest, Target: el})
	f.doc.Dispatch(dom.Event{Type: EventAfterSwap, Target: el})
	f.doc.Dispatch(dom.Event{Type: EventAfterSettle, Target: el})

	if el.HasAttr("aria-busy") {
		t.Error("afterSettle left the state up")
	}
	f.clock.Advance(time.Second)
	settle(f.clock)
	if el.Attr("aria-busy") == "true" {
		t.Error("stale pending removal resurfaced")
	}
}

func TestFormSubmitClientHandled(t *testing.T) {
	f := newFixture(t, `<form id="f" lx-strategy="spinner"><input name="q"></form>`, nil)
	form := f.doc.GetByID("f")

	f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
	if !form.HasAttr("aria-busy") {
		t.Fatal("submit did not activate the form")
	}
	st, ok := f.states.Get(form)
	if !ok || st.Fallback == nil {
		t.Fatal("no fallback timer stored")
	}

	f.clock.Advance(5 * time.Second)
	settle(f.clock)
	if form.HasAttr("aria-busy") {
		t.Error("fallback did not clean up")
	}
	if got := f.ins.Stats().Fallbacks; got != 1 {
		t.Errorf("fallbacks: got %d, want 1", got)
	}
}

func TestFormSubmitPrefersFocusedControl(t *testing.T) {
	f := newFixture(t, `<form id="f" action="#"><button id="send" lx-strategy="spinner">send</button></form>`, nil)
	form := f.doc.GetByID("f")
	button := f.doc.GetByID("send")
	f.doc.SetFocus(button)

	f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
	if !button.HasAttr("aria-busy") {
		t.Error("focused control not activated")
	}
	if form.HasAttr("aria-busy") {
		t.Error("form activated despite focused control")
	}
}

func TestFormFallbackCancelledByRealCleanup(t *testing.T) {
	f := newFixture(t, `<form id="f" lx-strategy="spinner"></form>`, nil)
	form := f.doc.GetByID("f")

	f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
	f.strat.Remove(form) // real cleanup arrives first

	f.clock.Advance(10 * time.Second)
	settle(f.clock)
	if got := f.ins.Stats().Fallbacks; got != 0 {
		t.Errorf("fallbacks after real cleanup: got %d, want 0", got)
	}
}

func TestFormNativePostPagehide(t *testing.T) {
	f := newFixture(t, `<form id="f" action="/search" lx-strategy="spinner"></form>`, nil)
	form := f.doc.GetByID("f")

	f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
	if !form.HasAttr("aria-busy") {
		t.Fatal("submit did not activate the form")
	}

	f.doc.Dispatch(dom.Event{Type: "pagehide"})
	if form.HasAttr("aria-busy") {
		t.Error("pagehide did not clean up")
	}
}

func TestFormPagehideTeardownSelfPrunes(t *testing.T) {
	f := newFixture(t, `<form id="f" action="/search" lx-strategy="spinner"></form>`, nil)
	form := f.doc.GetByID("f")

	tracked := func() int {
		f.ins.mu.Lock()
		defer f.ins.mu.Unlock()
		return len(f.ins.unsubs)
	}
	base := tracked()

	// Repeated native submissions must not accumulate dead teardowns once
	// their pagehide listeners have fired.
	for n := 0; n < 3; n++ {
		f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
		f.doc.Dispatch(dom.Event{Type: "pagehide"})
	}
	if got := tracked(); got != base {
		t.Errorf("tracked teardowns after fired pagehide: got %d, want %d", got, base)
	}
}

func TestFormsDisabled(t *testing.T) {
	f := newFixture(t, `<form id="f" lx-strategy="spinner"></form>`,
		&config.Options{AutoDetect: map[string]any{"forms": false}})
	form := f.doc.GetByID("f")
	f.doc.Dispatch(dom.Event{Type: "submit", Target: form})
	if form.HasAttr("aria-busy") {
		t.Error("disabled form detection still activated")
	}
}

func TestCloseDetaches(t *testing.T) {
	f := newFixture(t, `<div id="t" lx-strategy="spinner">x</div>`, nil)
	el := f.doc.GetByID("t")

	f.ins.Close()
	f.ins.Close() // idempotent

	f.doc.Dispatch(dom.Event{Type: EventBeforeRequest, Target: el})
	f.doc.Dispatch(dom.Event{Type: "submit", Target: el})
	if el.HasAttr("aria-busy") {
		t.Error("closed instrumentor still reacting")
	}
}

func TestTransportReportsOperation(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="spinner">idle</div>`, nil)
	el := f.doc.GetByID("panel")

	base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})
	req, _ := http.NewRequest("GET", "http://example.test/data", nil)
	req = req.WithContext(WithElement(req.Context(), el))
	if _, err := f.ins.Transport(base).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}

	ops := f.sink.byPhase(observability.PhaseOperation)
	if len(ops) != 1 {
		t.Fatalf("operation events: got %d, want 1", len(ops))
	}
	if ops[0].Detail != "fetch" || ops[0].Error != "" || ops[0].Element != "<div#panel>" {
		t.Errorf("operation event: got %+v", ops[0])
	}
	if got := f.sink.byPhase(observability.PhaseRemoveRequested); len(got) != 1 {
		t.Errorf("remove_requested events: got %d, want 1", len(got))
	}
}

func TestOperationErrorReported(t *testing.T) {
	f := newFixture(t, `<div id="panel" lx-strategy="progress">idle</div>`, nil)
	el := f.doc.GetByID("panel")

	op := f.ins.Prepare(el)
	op.Send()
	op.Settle(errors.New("boom"))

	ops := f.sink.byPhase(observability.PhaseOperation)
	if len(ops) != 1 {
		t.Fatalf("operation events: got %d, want 1", len(ops))
	}
	if ops[0].Detail != "xhr" || ops[0].Error != "boom" {
		t.Errorf("operation event: got %+v", ops[0])
	}
}

func TestFallbackReported(t *testing.T) {
	f := newFixture(t, `<form id="f" lx-strategy="spinner"><input type="text"></form>`, nil)

	f.doc.Dispatch(dom.Event{Type: "submit", Target: f.doc.GetByID("f")})
	f.clock.Advance(formFallbackDelay)
	settle(f.clock)

	fbs := f.sink.byPhase(observability.PhaseFallback)
	if len(fbs) != 1 {
		t.Fatalf("fallback events: got %d, want 1", len(fbs))
	}
	if fbs[0].Element != "<form#f>" {
		t.Errorf("fallback element: got %q", fbs[0].Element)
	}
}
