package strategy

import (
	"strings"
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
)

type fixture struct {
	doc    *dom.Document
	clock  *clockz.FakeClock
	states *registry.Registry
	engine *Engine
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	d, err := dom.ParseString(`<html><body>` + body + `</body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg, err := config.Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	clock := clockz.NewFakeClock()
	sched := schedule.New(clock)
	states := registry.New()
	states.Bind(d)
	eng := New(Deps{
		Doc:       d,
		Cfg:       cfg,
		Guard:     clsguard.New(cfg.PreventCLS(), nil),
		Announcer: announce.New(d, sched, "lx", nil),
		States:    states,
		Sched:     sched,
	})
	return &fixture{doc: d, clock: clock, states: states, engine: eng}
}

func settle(clock *clockz.FakeClock) {
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
}

func TestApplyRemoveRestoresExactHTML(t *testing.T) {
	strategies := []string{"spinner", "skeleton", "progress", "fade"}
	for _, name := range strategies {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, `<div id="t"><p>hello <b>world</b></p></div>`)
			el := f.doc.GetByID("t")
			before := el.InnerHTML()

			f.engine.Apply(el, notation.Options{Strategy: name})
			f.engine.Remove(el)
			settle(f.clock)

			if got := el.InnerHTML(); got != before {
				t.Errorf("innerHTML after cycle: got %q, want %q", got, before)
			}
		})
	}
}

func TestApplySetsBookkeeping(t *testing.T) {
	f := newFixture(t, `<div id="t">content</div>`)
	el := f.doc.GetByID("t")
	before := el.InnerHTML()

	f.engine.Apply(el, notation.Options{Strategy: "skeleton"})

	if got := el.Attr("aria-busy"); got != "true" {
		t.Errorf("aria-busy: got %q, want true", got)
	}
	if got := el.Attr("data-lx-active"); got != "skeleton" {
		t.Errorf("data-lx-active: got %q, want skeleton", got)
	}
	if got := el.Attr("data-lx-original"); got != before {
		t.Errorf("data-lx-original: got %q, want %q", got, before)
	}
	if !el.HasClass("lx-busy") || !el.HasClass("lx-busy-skeleton") {
		t.Errorf("marker classes: got %q", el.Attr("class"))
	}
	if st, ok := f.states.Get(el); !ok || st.Strategy != "skeleton" {
		t.Errorf("registry state: got %+v/%t", st, ok)
	}
}

func TestRemoveClearsBookkeeping(t *testing.T) {
	f := newFixture(t, `<div id="t">content</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	f.engine.Remove(el)

	if el.HasAttr("aria-busy") || el.HasAttr("data-lx-active") || el.HasAttr("data-lx-original") {
		t.Errorf("recoverable attrs remain: %v", el.Attrs())
	}
	if el.HasClass("lx-busy") || el.HasClass("lx-busy-spinner") {
		t.Errorf("marker classes remain: %q", el.Attr("class"))
	}
	if _, ok := f.states.Get(el); ok {
		t.Error("registry entry survived removal")
	}
}

func TestRemoveFollowsRecordedStrategy(t *testing.T) {
	f := newFixture(t, `<div id="t"><p>x</p></div>`)
	el := f.doc.GetByID("t")
	before := el.InnerHTML()

	// Applied as progress; the element's class list may claim otherwise.
	f.engine.Apply(el, notation.Options{Strategy: "progress"})
	el.AddClass("lx-skeleton")

	f.engine.Remove(el)
	got := el.InnerHTML()
	if got != before {
		t.Errorf("innerHTML: got %q, want %q (removal must follow the recorded strategy)", got, before)
	}
}

func TestRemoveWithoutStateOnlyClearsAriaBusy(t *testing.T) {
	f := newFixture(t, `<div id="t" aria-busy="true">content</div>`)
	el := f.doc.GetByID("t")
	f.engine.Remove(el)
	if el.HasAttr("aria-busy") {
		t.Error("aria-busy not cleared")
	}
	if got := el.InnerHTML(); got != "content" {
		t.Errorf("content touched by no-op removal: %q", got)
	}
}

func TestNilElementNoops(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	f.engine.Apply(nil, notation.Options{Strategy: "spinner"})
	f.engine.Remove(nil)
	f.engine.Update(nil, 50)
	if f.states.Len() != 0 {
		t.Errorf("registry entries after nil operations: %d", f.states.Len())
	}
}

func TestUnknownStrategyFallsBackToSpinner(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "sparkle"})
	if got := el.Attr("data-lx-active"); got != "spinner" {
		t.Errorf("data-lx-active: got %q, want spinner", got)
	}
	if el.Find(".lx-spinner") == nil {
		t.Error("spinner markup missing")
	}
}

func TestReapplyKeepsOriginalSnapshot(t *testing.T) {
	f := newFixture(t, `<div id="t"><p>real content</p></div>`)
	el := f.doc.GetByID("t")
	before := el.InnerHTML()

	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	f.engine.Apply(el, notation.Options{Strategy: "skeleton"}) // over active spinner

	if got := el.Attr("data-lx-active"); got != "skeleton" {
		t.Errorf("data-lx-active: got %q, want skeleton", got)
	}
	if el.HasClass("lx-busy-spinner") {
		t.Error("stale spinner marker class survived re-apply")
	}

	f.engine.Remove(el)
	settle(f.clock)
	if got := el.InnerHTML(); got != before {
		t.Errorf("innerHTML: got %q, want first snapshot %q", got, before)
	}
}

func TestReapplyCancelsFallbackTimer(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")

	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	st, _ := f.states.Get(el)
	sched := schedule.New(f.clock)
	fired := false
	st.Fallback = sched.After(5*time.Second, func() { fired = true })

	f.engine.Apply(el, notation.Options{Strategy: "spinner"})

	f.clock.Advance(10 * time.Second)
	settle(f.clock)
	if fired {
		t.Error("stale fallback timer fired after re-activation")
	}
}

func TestRemoveAnnouncesCompletion(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	f.engine.Remove(el)

	region := f.doc.GetByID(announce.RegionID)
	if region == nil {
		t.Fatal("live region missing")
	}
	if got := region.Text(); got != LoadedMessage {
		t.Errorf("announcement: got %q, want %q", got, LoadedMessage)
	}
}

// --- spinner ---

func TestSpinnerKindsAndSizes(t *testing.T) {
	tests := []struct {
		opts notation.Options
		want []string
	}{
		{notation.Options{Strategy: "spinner"}, []string{"lx-spinner-circle", "lx-spinner-md", "lx-spinner-ring"}},
		{notation.Options{Strategy: "spinner", SpinnerType: "dots", SpinnerSize: "lg"}, []string{"lx-spinner-dots", "lx-spinner-lg", "lx-spinner-dot"}},
		{notation.Options{Strategy: "spinner", SpinnerType: "bars", SpinnerSize: "sm"}, []string{"lx-spinner-bars", "lx-spinner-sm", "lx-spinner-bar"}},
		{notation.Options{Strategy: "spinner", SpinnerType: "wheel"}, []string{"lx-spinner-circle"}}, // unknown kind
	}
	for _, tt := range tests {
		f := newFixture(t, `<div id="t">x</div>`)
		el := f.doc.GetByID("t")
		f.engine.Apply(el, tt.opts)
		got := el.InnerHTML()
		for _, want := range tt.want {
			if !strings.Contains(got, want) {
				t.Errorf("spinner %+v: markup %q missing %q", tt.opts, got, want)
			}
		}
	}
}

func TestSpinnerColorAndMessage(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "spinner", SpinnerColor: "#336699", Message: "Fetching"})
	got := el.InnerHTML()
	if !strings.Contains(got, "color: #336699") {
		t.Errorf("markup missing color: %q", got)
	}
	if !strings.Contains(got, "Fetching") {
		t.Errorf("markup missing message: %q", got)
	}
}

func TestSpinnerReducedMotionStaticText(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	f.doc.SetEnvironment(dom.StaticEnvironment{PrefersReducedMotion: true})
	el := f.doc.GetByID("t")

	f.engine.Apply(el, notation.Options{Strategy: "spinner", SpinnerType: "dots"})
	got := el.InnerHTML()
	if !strings.Contains(got, "lx-spinner-static") {
		t.Errorf("markup %q missing static class", got)
	}
	if !strings.Contains(got, DefaultLoadingText) {
		t.Errorf("markup %q missing static text", got)
	}
	if strings.Contains(got, "lx-spinner-dot\"") {
		t.Errorf("animated markup rendered under reduced motion: %q", got)
	}
}

func TestSpinnerMessageSanitized(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "spinner", Message: `<script>alert(1)</script>Wait`})
	got := el.InnerHTML()
	if strings.Contains(got, "<script>") {
		t.Errorf("unsanitized markup: %q", got)
	}
	if !strings.Contains(got, "Wait") {
		t.Errorf("sanitizer dropped the text too: %q", got)
	}
}

type boxMetrics struct{ box dom.Box }

func (m boxMetrics) Box(*dom.Element) (dom.Box, bool) { return m.box, true }

func TestSpinnerLocksAndRestoresBox(t *testing.T) {
	f := newFixture(t, `<div id="t" style="width: 50%">x</div>`)
	f.doc.SetMetrics(boxMetrics{box: dom.Box{Width: 240, Height: 32}})
	el := f.doc.GetByID("t")

	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	if got := el.Style("width"); got != "240px" {
		t.Errorf("width during spinner: got %q, want 240px", got)
	}
	if got := el.Style("min-height"); got != "32px" {
		t.Errorf("min-height during spinner: got %q, want 32px", got)
	}

	f.engine.Remove(el)
	if got := el.Style("width"); got != "50%" {
		t.Errorf("width after removal: got %q, want original 50%%", got)
	}
	if got := el.Style("min-height"); got != "" {
		t.Errorf("min-height after removal: got %q, want removed", got)
	}
}

// --- skeleton ---

func TestSkeletonShapeDetection(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  []string
		lines int
	}{
		{
			"image shape",
			`<div id="t"><img src="x.png"><p>cap</p></div>`,
			[]string{"lx-skeleton-image", "lx-skeleton-heading", `width: 80%`},
			2,
		},
		{
			"list shape capped at five",
			`<div id="t"><ul><li>1</li><li>2</li><li>3</li><li>4</li><li>5</li><li>6</li><li>7</li></ul></div>`,
			nil,
			5,
		},
		{
			"list shape minimum one",
			`<div id="t"><ul></ul><li></li></div>`,
			nil,
			1,
		},
		{
			"paragraph shape",
			`<div id="t"><p>one</p><p>two</p></div>`,
			[]string{"lx-skeleton-heading", `width: 60%`},
			3,
		},
		{
			"generic shape",
			`<div id="t">plain text</div>`,
			nil,
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.body)
			el := f.doc.GetByID("t")
			f.engine.Apply(el, notation.Options{Strategy: "skeleton"})

			got := el.InnerHTML()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("markup %q missing %q", got, want)
				}
			}
			if n := len(el.FindAll(".lx-skeleton-line")); n != tt.lines {
				t.Errorf("skeleton lines: got %d, want %d", n, tt.lines)
			}
		})
	}
}

func TestSkeletonTableGrid(t *testing.T) {
	body := `<div id="t"><table>
		<tr><th>a</th><th>b</th><th>c</th></tr>
		<tr><td>1</td><td>2</td><td>3</td></tr>
		<tr><td>4</td><td>5</td><td>6</td></tr>
	</table></div>`
	f := newFixture(t, body)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "skeleton"})

	if got := len(el.FindAll(".lx-skeleton-row")); got != 3 {
		t.Errorf("grid rows: got %d, want 3", got)
	}
	if got := len(el.FindAll(".lx-skeleton-cell")); got != 9 {
		t.Errorf("grid cells: got %d, want 9", got)
	}
}

func TestSkeletonTableGridCaps(t *testing.T) {
	var rows strings.Builder
	for r := 0; r < 8; r++ {
		rows.WriteString("<tr>")
		for c := 0; c < 10; c++ {
			rows.WriteString("<td>x</td>")
		}
		rows.WriteString("</tr>")
	}
	f := newFixture(t, `<div id="t"><table>`+rows.String()+`</table></div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "skeleton"})

	if got := len(el.FindAll(".lx-skeleton-row")); got != 5 {
		t.Errorf("grid rows: got %d, want capped 5", got)
	}
	if got := len(el.FindAll(".lx-skeleton-cell")); got != 30 {
		t.Errorf("grid cells: got %d, want 5x6=30", got)
	}
}

func TestSkeletonRowsOverride(t *testing.T) {
	rows := 4
	f := newFixture(t, `<div id="t"><img src="x.png"></div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "skeleton", Rows: &rows})

	if got := len(el.FindAll(".lx-skeleton-line")); got != 4 {
		t.Errorf("lines with override: got %d, want 4", got)
	}
	if el.Find(".lx-skeleton-image") != nil {
		t.Error("override still ran shape detection")
	}
	if !strings.Contains(el.InnerHTML(), "width: 60%") {
		t.Errorf("last override line not narrowed: %q", el.InnerHTML())
	}
}

func TestSkeletonStaticAndMinHeight(t *testing.T) {
	animate := false
	minH := 200
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "skeleton", Animate: &animate, MinHeight: &minH})

	got := el.InnerHTML()
	if !strings.Contains(got, "lx-skeleton-static") {
		t.Errorf("markup %q missing shimmer-suppressing class", got)
	}
	if !strings.Contains(got, "min-height: 200px") {
		t.Errorf("markup %q missing min-height", got)
	}
}

// --- progress ---

func TestProgressDeterminate(t *testing.T) {
	val, max := 50.0, 100.0
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress", Value: &val, Max: &max})

	fill := el.Find(".lx-progress-fill")
	if fill == nil {
		t.Fatal("fill missing")
	}
	if got := fill.Style("width"); got != "50%" {
		t.Errorf("fill width: got %q, want 50%%", got)
	}
	label := el.Find(".lx-progress-label")
	if label == nil {
		t.Fatal("label missing")
	}
	if got := label.Text(); got != "50%" {
		t.Errorf("label: got %q, want 50%%", got)
	}
	if got := el.Find(".lx-progress").Attr("aria-valuenow"); got != "50" {
		t.Errorf("aria-valuenow: got %q, want 50", got)
	}
}

func TestProgressClampsOverflow(t *testing.T) {
	val, max := 150.0, 100.0
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress", Value: &val, Max: &max})

	if got := el.Find(".lx-progress-fill").Style("width"); got != "100%" {
		t.Errorf("fill width: got %q, want clamped 100%%", got)
	}
	if got := el.Find(".lx-progress-label").Text(); got != "100%" {
		t.Errorf("label: got %q, want 100%%", got)
	}
}

func TestProgressIndeterminate(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress"})

	if el.Find(".lx-progress-label") != nil {
		t.Error("indeterminate bar rendered a label")
	}
	if el.Find(".lx-progress-indeterminate") == nil {
		t.Error("indeterminate class missing")
	}
	if el.Find(".lx-progress").HasAttr("aria-valuenow") {
		t.Error("indeterminate bar has aria-valuenow")
	}
}

func TestProgressRoundsLabel(t *testing.T) {
	val, max := 1.0, 3.0
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress", Value: &val, Max: &max})
	if got := el.Find(".lx-progress-label").Text(); got != "33%" {
		t.Errorf("label: got %q, want 33%%", got)
	}
}

func TestUpdateMutatesInPlace(t *testing.T) {
	val := 20.0
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress", Value: &val})

	barBefore := el.Find(".lx-progress")
	f.engine.Update(el, 75)

	if got := el.Find(".lx-progress-fill").Style("width"); got != "75%" {
		t.Errorf("fill width: got %q, want 75%%", got)
	}
	if got := el.Find(".lx-progress-label").Text(); got != "75%" {
		t.Errorf("label: got %q, want 75%%", got)
	}
	if el.Find(".lx-progress") != barBefore {
		t.Error("Update re-applied the strategy instead of mutating in place")
	}
}

func TestUpdateNoopWithoutProgressState(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")

	f.engine.Update(el, 50) // idle element
	if got := el.InnerHTML(); got != "x" {
		t.Errorf("Update on idle element mutated content: %q", got)
	}

	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	before := el.InnerHTML()
	f.engine.Update(el, 50) // wrong strategy
	if got := el.InnerHTML(); got != before {
		t.Errorf("Update on spinner mutated content: %q", got)
	}
}

func TestUpdateClamps(t *testing.T) {
	val := 10.0
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "progress", Value: &val})
	f.engine.Update(el, 400)
	if got := el.Find(".lx-progress-fill").Style("width"); got != "100%" {
		t.Errorf("fill width: got %q, want 100%%", got)
	}
}

// --- fade ---

func TestFadeAppliesTransition(t *testing.T) {
	f := newFixture(t, `<div id="t"><p>x</p></div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "fade"})

	if got := el.Style("opacity"); got != "0.3" {
		t.Errorf("opacity: got %q, want 0.3", got)
	}
	if got := el.Style("transition"); got != "opacity 300ms ease" {
		t.Errorf("transition: got %q", got)
	}
	// Without a message the content is left alone.
	if got := el.InnerHTML(); got != "<p>x</p>" {
		t.Errorf("content: got %q, want untouched", got)
	}
}

func TestFadeMessageSwap(t *testing.T) {
	f := newFixture(t, `<div id="t"><p>x</p></div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "fade", Message: "Refreshing"})
	if got := el.Find(".lx-fade-message"); got == nil || got.Text() != "Refreshing" {
		t.Errorf("fade message: got %v", got)
	}
}

func TestFadeRemovalDefersCleanup(t *testing.T) {
	dur := 400
	f := newFixture(t, `<div id="t"><p>x</p></div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "fade", Duration: &dur})
	f.engine.Remove(el)

	// Content and opacity come back immediately.
	if got := el.Style("opacity"); got != "1" {
		t.Errorf("opacity right after removal: got %q, want 1", got)
	}
	if got := el.InnerHTML(); got != "<p>x</p>" {
		t.Errorf("content right after removal: got %q", got)
	}
	if el.HasAttr("aria-busy") {
		t.Error("aria-busy survived fade removal")
	}
	// Bookkeeping stays up during the transition window.
	if !el.HasClass("lx-busy-fade") || !el.HasAttr("data-lx-active") {
		t.Error("fade bookkeeping cleaned too early")
	}

	f.clock.Advance(400 * time.Millisecond)
	settle(f.clock)

	if el.HasClass("lx-busy") || el.HasClass("lx-busy-fade") {
		t.Errorf("marker classes after transition: %q", el.Attr("class"))
	}
	if el.HasAttr("data-lx-active") || el.HasAttr("data-lx-original") {
		t.Error("recoverable attrs after transition")
	}
	if got := el.Style("transition"); got != "" {
		t.Errorf("transition style after cleanup: got %q, want removed", got)
	}
	if got := el.Style("opacity"); got != "" {
		t.Errorf("opacity style after cleanup: got %q, want removed", got)
	}
}

func TestFadeReapplyDuringCleanupWindow(t *testing.T) {
	dur := 400
	f := newFixture(t, `<div id="t"><p>x</p></div>`)
	el := f.doc.GetByID("t")
	before := el.InnerHTML()

	f.engine.Apply(el, notation.Options{Strategy: "fade", Duration: &dur})
	f.engine.Remove(el)

	// Re-apply while the deferred cleanup is still pending.
	f.engine.Apply(el, notation.Options{Strategy: "spinner"})
	if got := el.Attr("data-lx-active"); got != "spinner" {
		t.Errorf("data-lx-active: got %q, want spinner", got)
	}
	if el.HasClass("lx-busy-fade") {
		t.Error("fade marker survived re-apply")
	}

	// The old cleanup timer must not fire into the new cycle.
	f.clock.Advance(time.Second)
	settle(f.clock)
	if !el.HasClass("lx-busy-spinner") {
		t.Error("stale fade cleanup destroyed the new loading state")
	}
	if got := el.Attr("data-lx-original"); got != before {
		t.Errorf("snapshot: got %q, want %q", got, before)
	}

	f.engine.Remove(el)
	settle(f.clock)
	if got := el.InnerHTML(); got != before {
		t.Errorf("final restore: got %q, want %q", got, before)
	}
}

func TestFadeRestoresOriginalInlineStyles(t *testing.T) {
	f := newFixture(t, `<div id="t" style="opacity: 0.9">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "fade"})
	f.engine.Remove(el)

	f.clock.Advance(300 * time.Millisecond)
	settle(f.clock)
	if got := el.Style("opacity"); got != "0.9" {
		t.Errorf("opacity after cleanup: got %q, want original 0.9", got)
	}
}

func TestStopFlushesFadeCleanups(t *testing.T) {
	f := newFixture(t, `<div id="t">x</div>`)
	el := f.doc.GetByID("t")
	f.engine.Apply(el, notation.Options{Strategy: "fade"})
	f.engine.Remove(el)

	f.engine.Stop()
	if el.HasClass("lx-busy") || el.HasAttr("data-lx-active") {
		t.Error("Stop left fade bookkeeping behind")
	}
}

type tapRecorder struct {
	evs []observability.Event
}

func (r *tapRecorder) Record(ev observability.Event) {
	r.evs = append(r.evs, ev)
}

func TestLifecycleReportsEvents(t *testing.T) {
	d, err := dom.ParseString(`<html><body><div id="t">x</div></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg, err := config.Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	clock := clockz.NewFakeClock()
	sched := schedule.New(clock)
	states := registry.New()
	states.Bind(d)
	rec := &tapRecorder{}
	eng := New(Deps{
		Doc:       d,
		Cfg:       cfg,
		Guard:     clsguard.New(cfg.PreventCLS(), nil),
		Announcer: announce.New(d, sched, "lx", nil),
		States:    states,
		Sched:     sched,
		Obs:       observability.NewTap(rec),
	})
	el := d.GetByID("t")

	eng.Apply(el, notation.Options{Strategy: "spinner"})
	clock.Advance(1500 * time.Millisecond)
	eng.Remove(el)
	settle(clock)

	if len(rec.evs) != 2 {
		t.Fatalf("events: got %d, want 2", len(rec.evs))
	}
	applied := rec.evs[0]
	if applied.Phase != observability.PhaseApplied || applied.Strategy != "spinner" || applied.Element != "<div#t>" {
		t.Errorf("applied event: got %+v", applied)
	}
	removed := rec.evs[1]
	if removed.Phase != observability.PhaseRemoveCompleted {
		t.Errorf("removed phase: got %s", removed.Phase)
	}
	if removed.Elapsed != 1500*time.Millisecond {
		t.Errorf("elapsed: got %s, want 1.5s", removed.Elapsed)
	}
}

func TestProgressUpdateReportsPercent(t *testing.T) {
	d, err := dom.ParseString(`<html><body><div id="t">x</div></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg, err := config.Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	clock := clockz.NewFakeClock()
	sched := schedule.New(clock)
	states := registry.New()
	states.Bind(d)
	rec := &tapRecorder{}
	eng := New(Deps{
		Doc:       d,
		Cfg:       cfg,
		Guard:     clsguard.New(cfg.PreventCLS(), nil),
		Announcer: announce.New(d, sched, "lx", nil),
		States:    states,
		Sched:     sched,
		Obs:       observability.NewTap(rec),
	})
	el := d.GetByID("t")

	eng.Apply(el, notation.Options{Strategy: "progress"})
	eng.Update(el, 42)

	last := rec.evs[len(rec.evs)-1]
	if last.Phase != observability.PhaseProgress || last.Value != 42 {
		t.Errorf("progress event: got %+v", last)
	}
}
