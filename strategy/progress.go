package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
)

// applyProgress renders a progress bar. The bar is determinate exactly
// when the options carry a numeric value; only determinate bars get a
// percentage label and an aria-valuenow. An explicit progress-mode option
// is surfaced as an extra class but never overrides that rule.
func (e *Engine) applyProgress(el *dom.Element, opts notation.Options) {
	p := e.prefix
	determinate := opts.Value != nil

	max := 100.0
	if opts.Max != nil && *opts.Max > 0 {
		max = *opts.Max
	}
	pct := 0.0
	if determinate {
		pct = clampPct(*opts.Value, max)
	}

	classes := p + "-progress"
	if mode := strings.ToLower(opts.ProgressMode); mode != "" {
		classes += " " + p + "-progress-" + mode
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="%s" role="progressbar" aria-valuemin="0" aria-valuemax="100"`, classes)
	if determinate {
		fmt.Fprintf(&b, ` aria-valuenow="%s"`, pctString(pct))
	}
	b.WriteString(`>`)

	fmt.Fprintf(&b, `<div class="%s-progress-track">`, p)
	if determinate {
		fmt.Fprintf(&b, `<div class="%s-progress-fill" style="width: %s%%"></div>`, p, pctString(pct))
	} else {
		fmt.Fprintf(&b, `<div class="%s-progress-fill %s-progress-indeterminate"></div>`, p, p)
	}
	b.WriteString(`</div>`)

	if determinate {
		fmt.Fprintf(&b, `<span class="%s-progress-label">%s%%</span>`, p, pctString(pct))
	}
	b.WriteString(`</div>`)

	if err := el.SetInnerHTML(b.String()); err != nil {
		e.logger.Warn("progress markup failed", "element", el.String(), "error", err)
	}
}

// clampPct converts value/max into a percentage capped at 100. Negative
// values floor at 0.
func clampPct(value, max float64) float64 {
	if max <= 0 {
		max = 100
	}
	pct := value / max * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// pctString renders a rounded percentage without a unit.
func pctString(pct float64) string {
	return strconv.Itoa(int(math.Round(pct)))
}
