package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/loadx/dom"
)

// jsBox measures one element. null means the element is missing or has no
// layout, which callers report as ok=false.
const jsBox = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	const cs = window.getComputedStyle(el);
	if (cs.display === 'none') return null;
	const r = el.getBoundingClientRect();
	return {w: r.width, h: r.height, minW: cs.minWidth, minH: cs.minHeight, sizing: cs.boxSizing};
}`

const jsReducedMotion = `() => window.matchMedia('(prefers-reduced-motion: reduce)').matches`

// Page is one live tab. It measures layout for elements of a parsed
// document whose markup matches the page, so parse the page's own HTML
// (see Document) rather than pairing it with an unrelated document.
type Page struct {
	page *rod.Page
	url  string
	log  *slog.Logger

	evalTimeout  time.Duration
	pollInterval time.Duration

	// ctx ends at Close and stops every resize poller.
	ctx    context.Context
	cancel context.CancelFunc

	motionOnce sync.Once
	motion     bool
}

// URL returns the address the page was opened on.
func (p *Page) URL() string { return p.url }

// HTML serialises the live DOM as outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("rodhost: read dom: %w", err)
	}
	return res.Value.Str(), nil
}

// Document parses the live DOM and wires the page in as the document's
// metrics and environment provider. Selectors computed from the returned
// document resolve in the live page as long as the page does not mutate
// between parse and measurement.
func (p *Page) Document(ctx context.Context) (*dom.Document, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := dom.ParseString(html)
	if err != nil {
		return nil, fmt.Errorf("rodhost: parse page: %w", err)
	}
	doc.SetMetrics(p)
	doc.SetEnvironment(p)
	return doc, nil
}

// Box measures el in the live page. ok is false when the element cannot
// be located, has display:none, or the measurement script fails.
func (p *Page) Box(el *dom.Element) (dom.Box, bool) {
	if el == nil || el.Detached() {
		return dom.Box{}, false
	}
	sel := cssPath(el)

	ctx, cancel := context.WithTimeout(p.ctx, p.evalTimeout)
	defer cancel()
	res, err := p.page.Context(ctx).Eval(jsBox, sel)
	if err != nil {
		p.log.Debug("rodhost: box eval failed", "selector", sel, "error", err)
		return dom.Box{}, false
	}
	if res.Value.Nil() {
		return dom.Box{}, false
	}
	v := res.Value
	return dom.Box{
		Width:     v.Get("w").Num(),
		Height:    v.Get("h").Num(),
		MinWidth:  v.Get("minW").Str(),
		MinHeight: v.Get("minH").Str(),
		BoxSizing: v.Get("sizing").Str(),
	}, true
}

// ObserveResize polls el's bounding box and invokes fn on every size
// change until the returned stop function is called or the page closes.
// Polling is slower than a real ResizeObserver but needs no CDP event
// plumbing and survives page-side script errors.
func (p *Page) ObserveResize(el *dom.Element, fn func(dom.Box)) (func(), bool) {
	last, ok := p.Box(el)
	if !ok {
		return nil, false
	}

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				box, ok := p.Box(el)
				if !ok {
					continue
				}
				if box.Width != last.Width || box.Height != last.Height {
					last = box
					fn(box)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }, true
}

// ReducedMotion reports the page's prefers-reduced-motion preference.
// The query runs once; OS-level preference flips mid-session are rare
// enough to ignore.
func (p *Page) ReducedMotion() bool {
	p.motionOnce.Do(func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.evalTimeout)
		defer cancel()
		res, err := p.page.Context(ctx).Eval(jsReducedMotion)
		if err != nil {
			p.log.Debug("rodhost: reduced motion query failed", "error", err)
			return
		}
		p.motion = res.Value.Bool()
	})
	return p.motion
}

// Close stops resize pollers and closes the tab.
func (p *Page) Close() error {
	p.cancel()
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}
