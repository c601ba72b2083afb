// Package prerender applies eager loading states to HTML responses on
// the server, so the first paint already shows busy placeholders before
// any client script runs.
//
// Wrap a router serving HTML:
//
//	rw, err := prerender.New(prerender.Options{})
//	if err != nil {
//		return err
//	}
//	r := chi.NewRouter()
//	r.Use(rw.Middleware)
//	r.Get("/", page)
//
// Elements opt in with the eager marker alongside their notation:
//
//	<div id="cart" lx-loading lx-strategy="skeleton">3 items</div>
//
// Non-HTML, non-2xx, encoded and oversized responses pass through
// untouched.
package prerender

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zoobzio/clockz"

	"github.com/hazyhaar/loadx/announce"
	"github.com/hazyhaar/loadx/clsguard"
	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/registry"
	"github.com/hazyhaar/loadx/schedule"
	"github.com/hazyhaar/loadx/strategy"
)

// DefaultMaxBody is the largest response the rewriter will buffer.
const DefaultMaxBody = 2 << 20

// Options configure a Rewriter.
type Options struct {
	// Config mirrors the client engine configuration so server-applied
	// states match what the client would produce. Nil means defaults.
	Config *config.Options
	// MaxBody caps buffering; larger responses stream through
	// unmodified. Default: DefaultMaxBody.
	MaxBody int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// Rewriter rewrites buffered HTML responses. One Rewriter serves any
// number of concurrent requests; each response gets its own document.
type Rewriter struct {
	cfg     *config.Config
	log     *slog.Logger
	maxBody int
	marker  string
}

// New validates opts and builds a Rewriter.
func New(opts Options) (*Rewriter, error) {
	cfg, err := config.Normalize(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("prerender: %w", err)
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Rewriter{
		cfg:     cfg,
		log:     log,
		maxBody: maxBody,
		marker:  notation.DefaultPrefix + "-loading",
	}, nil
}

// Middleware wraps next, rewriting eligible HTML responses.
func (rw *Rewriter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := &capture{rw: w, max: rw.maxBody}
		next.ServeHTTP(c, r)

		if c.through {
			return
		}
		if c.status == 0 {
			// Handler wrote nothing at all.
			return
		}
		if c.buf.Len() == 0 {
			// Status and headers only; parsing would invent a body.
			w.WriteHeader(c.status)
			return
		}

		body := c.buf.Bytes()
		out, err := rw.rewrite(body)
		if err != nil {
			rw.log.Warn("prerender: rewrite failed, passing through", "error", err)
			out = body
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(c.status)
		if _, err := w.Write(out); err != nil {
			rw.log.Debug("prerender: response write", "error", err)
		}
	})
}

// rewrite parses body, ensures the live region, applies loading states
// to eager-marked elements and renders the document back out.
func (rw *Rewriter) rewrite(body []byte) ([]byte, error) {
	doc, err := dom.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("prerender: parse: %w", err)
	}

	states := registry.New()
	states.Bind(doc)
	sched := schedule.New(clockz.RealClock)
	ann := announce.New(doc, sched, "", rw.log)
	ann.Region()

	strat := strategy.New(strategy.Deps{
		Doc:       doc,
		Cfg:       rw.cfg,
		Guard:     clsguard.New(rw.cfg.PreventCLS(), rw.log),
		Announcer: ann,
		States:    states,
		Sched:     sched,
		Logger:    rw.log,
	})
	resolver := &notation.Resolver{
		Modern:  rw.cfg.ModernSyntax(),
		Silence: rw.cfg.SilenceDeprecations(),
		Logger:  rw.log,
	}

	for _, el := range doc.FindAll("[" + rw.marker + "]") {
		if el.Attr(rw.marker) == "false" {
			continue
		}
		opts, err := resolver.Resolve(el)
		if err != nil {
			rw.log.Warn("prerender: notation rejected, applying defaults",
				"element", el.String(), "error", err)
			opts = notation.Options{}
		}
		strat.Apply(el, opts)
	}

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		return nil, fmt.Errorf("prerender: render: %w", err)
	}
	return out.Bytes(), nil
}

// capture defers a response while deciding whether to rewrite it. HTML
// responses buffer up to max bytes; everything else engages passthrough
// at header time and streams.
type capture struct {
	rw     http.ResponseWriter
	max    int
	status int

	buf     bytes.Buffer
	through bool
}

func (c *capture) Header() http.Header { return c.rw.Header() }

func (c *capture) WriteHeader(status int) {
	if c.status != 0 || c.through {
		return
	}
	c.status = status
	if !rewritable(status, c.rw.Header()) {
		c.passThrough()
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.through {
		return c.rw.Write(p)
	}
	if c.status == 0 {
		// Implicit 200; sniff when the handler set no Content-Type,
		// the way net/http itself would.
		if c.rw.Header().Get("Content-Type") == "" {
			c.rw.Header().Set("Content-Type", http.DetectContentType(p))
		}
		c.WriteHeader(http.StatusOK)
		if c.through {
			return c.rw.Write(p)
		}
	}
	if c.buf.Len()+len(p) > c.max {
		c.passThrough()
		return c.rw.Write(p)
	}
	return c.buf.Write(p)
}

// passThrough sends the deferred status downstream, flushes anything
// buffered and streams from here on.
func (c *capture) passThrough() {
	c.through = true
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	c.rw.WriteHeader(status)
	if c.buf.Len() > 0 {
		c.rw.Write(c.buf.Bytes())
		c.buf.Reset()
	}
}

func rewritable(status int, h http.Header) bool {
	if status < 200 || status >= 300 {
		return false
	}
	if h.Get("Content-Encoding") != "" {
		return false
	}
	ct := h.Get("Content-Type")
	return strings.HasPrefix(ct, "text/html")
}
