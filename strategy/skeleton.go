package strategy

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
)

const (
	skeletonMaxRows = 5
	skeletonMaxCols = 6
)

// applySkeleton replaces el's content with placeholder blocks shaped like
// the markup being replaced: an image card gets an image block, a list
// gets one line per item, a table gets a grid, prose gets heading and
// lines. A caller-supplied row count skips detection entirely.
func (e *Engine) applySkeleton(el *dom.Element, opts notation.Options) {
	p := e.prefix
	var b strings.Builder

	classes := p + "-skeleton"
	if opts.Animate != nil && !*opts.Animate {
		classes += " " + p + "-skeleton-static"
	}
	style := ""
	if opts.MinHeight != nil {
		style = fmt.Sprintf(` style="min-height: %dpx"`, *opts.MinHeight)
	}
	fmt.Fprintf(&b, `<div class="%s" aria-hidden="true"%s>`, classes, style)

	if opts.Rows != nil && *opts.Rows > 0 {
		writeLines(&b, p, *opts.Rows, "60%")
	} else {
		e.writeDetectedShape(&b, el)
	}
	b.WriteString(`</div>`)

	if err := el.SetInnerHTML(b.String()); err != nil {
		e.logger.Warn("skeleton markup failed", "element", el.String(), "error", err)
	}
}

// writeDetectedShape picks a placeholder shape from the element's current
// markup. Detection order matters: an image wins over everything, then
// list, table, paragraphs, then the generic two-line fallback.
func (e *Engine) writeDetectedShape(b *strings.Builder, el *dom.Element) {
	p := e.prefix
	switch {
	case el.Find("img") != nil:
		fmt.Fprintf(b, `<div class="%s-skeleton-image"></div>`, p)
		fmt.Fprintf(b, `<div class="%s-skeleton-heading"></div>`, p)
		writeLines(b, p, 2, "80%")

	case el.Find("li") != nil:
		n := len(el.FindAll("li"))
		if n > skeletonMaxRows {
			n = skeletonMaxRows
		}
		if n < 1 {
			n = 1
		}
		writeLines(b, p, n, "")

	case el.Find("table") != nil || el.Tag() == "table":
		rows := len(el.FindAll("tr"))
		if rows > skeletonMaxRows {
			rows = skeletonMaxRows
		}
		if rows < 1 {
			rows = 1
		}
		cols := countColumns(el)
		if cols > skeletonMaxCols {
			cols = skeletonMaxCols
		}
		if cols < 1 {
			cols = 1
		}
		fmt.Fprintf(b, `<div class="%s-skeleton-grid">`, p)
		for r := 0; r < rows; r++ {
			fmt.Fprintf(b, `<div class="%s-skeleton-row">`, p)
			for c := 0; c < cols; c++ {
				fmt.Fprintf(b, `<div class="%s-skeleton-cell"></div>`, p)
			}
			b.WriteString(`</div>`)
		}
		b.WriteString(`</div>`)

	case el.Find("p") != nil:
		fmt.Fprintf(b, `<div class="%s-skeleton-heading"></div>`, p)
		writeLines(b, p, 3, "60%")

	default:
		writeLines(b, p, 2, "")
	}
}

// writeLines emits n placeholder lines; lastWidth, when set, narrows the
// final line so the block reads like ragged text.
func writeLines(b *strings.Builder, prefix string, n int, lastWidth string) {
	for i := 0; i < n; i++ {
		if lastWidth != "" && i == n-1 {
			fmt.Fprintf(b, `<div class="%s-skeleton-line" style="width: %s"></div>`, prefix, lastWidth)
			continue
		}
		fmt.Fprintf(b, `<div class="%s-skeleton-line"></div>`, prefix)
	}
}

// countColumns reads the widest row of the first table under el.
func countColumns(el *dom.Element) int {
	rows := el.FindAll("tr")
	max := 0
	for _, row := range rows {
		n := len(row.FindAll("td")) + len(row.FindAll("th"))
		if n > max {
			max = n
		}
	}
	return max
}
