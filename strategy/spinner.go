package strategy

import (
	"fmt"
	"html"
	"strings"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
)

// DefaultLoadingText is the static indicator used under reduced motion.
const DefaultLoadingText = "Loading…"

var spinnerKinds = map[string]bool{"circle": true, "dots": true, "bars": true}
var spinnerSizes = map[string]bool{"sm": true, "md": true, "lg": true}

// applySpinner replaces el's content with an animated indicator. Under a
// reduced-motion preference every kind degrades to static text. The
// element's rendered width and min-height are pinned inline first so the
// much smaller spinner cannot collapse the box, independent of the CLS
// guard.
func (e *Engine) applySpinner(el *dom.Element, opts notation.Options, styles map[string]string) {
	kind := strings.ToLower(opts.SpinnerType)
	if !spinnerKinds[kind] {
		kind = "circle"
	}
	size := strings.ToLower(opts.SpinnerSize)
	if !spinnerSizes[size] {
		size = "md"
	}

	e.lockSpinnerBox(el, styles)

	p := e.prefix
	var b strings.Builder
	if e.reducedMotion() {
		text := DefaultLoadingText
		if opts.Message != "" {
			text = e.message(opts.Message)
		}
		fmt.Fprintf(&b, `<div class="%s-spinner %s-spinner-static" role="status">%s</div>`,
			p, p, html.EscapeString(text))
	} else {
		style := ""
		if opts.SpinnerColor != "" {
			style = fmt.Sprintf(` style="color: %s"`, html.EscapeString(opts.SpinnerColor))
		}
		fmt.Fprintf(&b, `<div class="%s-spinner %s-spinner-%s %s-spinner-%s" role="status"%s>`,
			p, p, kind, p, size, style)
		switch kind {
		case "dots":
			for i := 0; i < 3; i++ {
				fmt.Fprintf(&b, `<span class="%s-spinner-dot"></span>`, p)
			}
		case "bars":
			for i := 0; i < 3; i++ {
				fmt.Fprintf(&b, `<span class="%s-spinner-bar"></span>`, p)
			}
		default:
			fmt.Fprintf(&b, `<div class="%s-spinner-ring"></div>`, p)
		}
		if opts.Message != "" {
			fmt.Fprintf(&b, `<span class="%s-spinner-message">%s</span>`,
				p, html.EscapeString(e.message(opts.Message)))
		}
		b.WriteString(`</div>`)
	}

	if err := el.SetInnerHTML(b.String()); err != nil {
		e.logger.Warn("spinner markup failed", "element", el.String(), "error", err)
	}
}

// lockSpinnerBox pins the pre-replacement width and min-height inline,
// saving the original inline values for removal. First application wins;
// a re-apply never overwrites the saved originals.
func (e *Engine) lockSpinnerBox(el *dom.Element, styles map[string]string) {
	metrics := el.Document().Metrics()
	if metrics == nil {
		return
	}
	box, ok := metrics.Box(el)
	if !ok || box.Width <= 0 || box.Height <= 0 {
		return
	}
	saveStyle(el, styles, "width")
	saveStyle(el, styles, "min-height")
	el.SetStyle("width", fmt.Sprintf("%gpx", box.Width))
	el.SetStyle("min-height", fmt.Sprintf("%gpx", box.Height))
}

func saveStyle(el *dom.Element, styles map[string]string, prop string) {
	if _, saved := styles[prop]; saved {
		return
	}
	styles[prop] = el.Style(prop)
}
