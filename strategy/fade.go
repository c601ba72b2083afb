package strategy

import (
	"fmt"
	"html"
	"time"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
)

// DefaultFadeMS is the opacity transition length when none is declared.
const DefaultFadeMS = 300

// applyFade dims el behind an opacity transition, optionally swapping its
// content for a short message. The pre-apply opacity and transition inline
// values are saved so the deferred removal cleanup can put them back.
func (e *Engine) applyFade(el *dom.Element, opts notation.Options, styles map[string]string) {
	duration := DefaultFadeMS
	if opts.Duration != nil && *opts.Duration >= 0 {
		duration = *opts.Duration
	}

	saveStyle(el, styles, "opacity")
	saveStyle(el, styles, "transition")

	el.SetStyle("transition", fmt.Sprintf("opacity %dms ease", duration))
	el.SetStyle("opacity", "0.3")

	if opts.Message != "" {
		markup := fmt.Sprintf(`<div class="%s-fade-message">%s</div>`,
			e.prefix, html.EscapeString(e.message(opts.Message)))
		if err := el.SetInnerHTML(markup); err != nil {
			e.logger.Warn("fade message markup failed", "element", el.String(), "error", err)
		}
	}
}

// removeFade restores content and full opacity immediately, then leaves
// the marker classes, recoverable attributes, and transition style in
// place until the fade-in has had its transition duration to play out.
// A re-apply during that window cancels the pending cleanup.
func (e *Engine) removeFade(el *dom.Element, snapshot string, styles map[string]string) {
	duration := DefaultFadeMS
	if st, ok := e.states.Get(el); ok && st.Options.Duration != nil && *st.Options.Duration >= 0 {
		duration = *st.Options.Duration
	}

	if err := el.SetInnerHTML(snapshot); err != nil {
		e.logger.Warn("snapshot restore failed", "element", el.String(), "error", err)
	}
	el.SetStyle("opacity", "1")
	el.RemoveAttr("aria-busy")
	e.guard.Unlock(el)

	// styles may be nil when the registry entry was lost; fall back to
	// clearing the properties we set.
	saved := styles
	if saved == nil {
		saved = map[string]string{"opacity": "", "transition": ""}
	}
	finish := func() {
		e.stripMarkers(el, "fade")
		restoreStyles(el, saved)
	}

	task := e.sched.After(time.Duration(duration)*time.Millisecond, func() {
		e.mu.Lock()
		delete(e.fadeCleanups, el.ID())
		e.mu.Unlock()
		finish()
	})

	e.mu.Lock()
	prev := e.fadeCleanups[el.ID()]
	delete(e.fadeCleanups, el.ID())
	if task.Active() {
		e.fadeCleanups[el.ID()] = &fadeCleanup{task: task, finish: finish}
	}
	e.mu.Unlock()
	if prev != nil && prev.task.Cancel() {
		prev.finish()
	}
}
