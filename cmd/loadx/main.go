// Command loadx applies, inspects and serves declarative loading states.
//
// Usage:
//
//	loadx -apply page.html                  # emit HTML with loading states applied
//	loadx -apply page.html -strategy fade   # force one strategy on every element
//	loadx -inspect page.html                # table of resolved notation per element
//	loadx -inspect page.html -markdown      # include content snapshots as markdown
//	loadx -serve -addr :8085                # prerender demo server
//	loadx -serve -config loadx.yaml         # with hot-reloaded config
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/loadx/config"
	"github.com/hazyhaar/loadx/dbopen"
	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/engine"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
	"github.com/hazyhaar/loadx/prerender"
	"github.com/hazyhaar/loadx/trace"
)

func main() {
	applyPath := flag.String("apply", "", "apply loading states to an HTML file, emit result on stdout")
	inspectPath := flag.String("inspect", "", "resolve and list the notation of every annotated element")
	serve := flag.Bool("serve", false, "run the prerender demo server")
	addr := flag.String("addr", ":8085", "listen address for -serve")
	configPath := flag.String("config", "", "path to loadx.yaml, hot-reloaded under -serve")
	strategyName := flag.String("strategy", "", "force this strategy under -apply, overriding notation")
	markdown := flag.Bool("markdown", false, "render content snapshots as markdown under -inspect")
	eventsPath := flag.String("events", "", "SQLite file recording lifecycle events under -apply")
	traceSQL := flag.Bool("trace", false, "trace event-store SQL through the sqlite-trace driver")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		apply:    *applyPath,
		inspect:  *inspectPath,
		serve:    *serve,
		addr:     *addr,
		config:   *configPath,
		strategy: *strategyName,
		markdown: *markdown,
		events:   *eventsPath,
		trace:    *traceSQL,
	}); err != nil {
		logger.Error("loadx: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	apply    string
	inspect  string
	serve    bool
	addr     string
	config   string
	strategy string
	markdown bool
	events   string
	trace    bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	switch {
	case opts.apply != "":
		return runApply(logger, opts)
	case opts.inspect != "":
		return runInspect(logger, opts)
	case opts.serve:
		return runServe(ctx, logger, opts)
	}
	fmt.Fprintln(os.Stderr, "usage: loadx -apply <file> | -inspect <file> | -serve")
	os.Exit(1)
	return nil
}

func loadOptions(path string) (*config.Options, error) {
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

func parseFile(path string) (*dom.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	doc, err := dom.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// declared collects every annotated element in document order.
func declared(doc *dom.Document) []*dom.Element {
	var els []*dom.Element
	doc.EachElement(func(el *dom.Element) bool {
		if notation.Declared(el, "") {
			els = append(els, el)
		}
		return true
	})
	return els
}

func runApply(logger *slog.Logger, opts options) error {
	doc, err := parseFile(opts.apply)
	if err != nil {
		return err
	}

	fileOpts, err := loadOptions(opts.config)
	if err != nil {
		return err
	}

	var extra []engine.Option
	extra = append(extra, engine.WithLogger(logger))
	if opts.events != "" {
		sink, closeSink, err := openEventLog(opts, logger)
		if err != nil {
			return err
		}
		defer closeSink()
		if fileOpts == nil {
			fileOpts = &config.Options{}
		}
		fileOpts.Telemetry = true
		extra = append(extra, engine.WithRecorder(sink))
	}

	eng, err := engine.New(doc, fileOpts, extra...)
	if err != nil {
		return err
	}
	defer eng.Disconnect()

	for _, el := range declared(doc) {
		if opts.strategy != "" {
			eng.Apply(el, notation.Options{Strategy: opts.strategy})
			continue
		}
		eng.Apply(el)
	}

	if err := doc.Render(os.Stdout); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	fmt.Println()
	return nil
}

// openEventLog opens the lifecycle event store, optionally through the
// tracing driver with a trace store alongside it in the same file.
func openEventLog(opts options, logger *slog.Logger) (observability.Recorder, func(), error) {
	var dbOpts []dbopen.Option
	closers := make([]func(), 0, 3)

	if opts.trace {
		// The trace store opens through the raw driver so its own
		// flushes are not traced back into itself.
		traceDB, err := dbopen.Open(opts.events, dbopen.WithMkdirAll())
		if err != nil {
			return nil, nil, fmt.Errorf("open trace store: %w", err)
		}
		store := trace.NewStore(traceDB)
		if err := store.Init(); err != nil {
			traceDB.Close()
			return nil, nil, fmt.Errorf("init trace store: %w", err)
		}
		trace.SetStore(store)
		closers = append(closers, func() {
			trace.SetStore(nil)
			store.Close()
			traceDB.Close()
		})
		dbOpts = append(dbOpts, dbopen.WithTrace())
	}

	db, err := dbopen.Open(opts.events, append(dbOpts, dbopen.WithMkdirAll())...)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, fmt.Errorf("open event store: %w", err)
	}
	sink, err := observability.NewEventLog(db, &observability.LogOptions{Logger: logger})
	if err != nil {
		db.Close()
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	closeAll := func() {
		sink.Close()
		db.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return sink, closeAll, nil
}

func runInspect(logger *slog.Logger, opts options) error {
	doc, err := parseFile(opts.inspect)
	if err != nil {
		return err
	}

	resolver := &notation.Resolver{Logger: logger, Silence: true}

	var md *converter.Converter
	if opts.markdown {
		md = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ELEMENT\tSYNTAX\tSTRATEGY\tOPTIONS")
	for _, el := range declared(doc) {
		resolved, err := resolver.Resolve(el)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t%v\n", el.String(), err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			el.String(), resolved.Source,
			notation.NormalizeStrategy(resolved.Strategy),
			describe(resolved))
		if md != nil {
			out, err := md.ConvertString(el.InnerHTML())
			if err != nil {
				logger.Warn("loadx: markdown conversion failed",
					"element", el.String(), "error", err)
				continue
			}
			fmt.Fprintf(w, "\t\t\t%q\n", out)
		}
	}
	return w.Flush()
}

// describe flattens the notable parts of an option bag for the table.
func describe(o notation.Options) string {
	var parts []string
	if o.Duration != nil {
		parts = append(parts, fmt.Sprintf("duration=%dms", *o.Duration))
	}
	if o.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%g", *o.Value))
	}
	if o.Max != nil {
		parts = append(parts, fmt.Sprintf("max=%g", *o.Max))
	}
	if o.Rows != nil {
		parts = append(parts, fmt.Sprintf("rows=%d", *o.Rows))
	}
	if o.Animate != nil {
		parts = append(parts, fmt.Sprintf("animate=%t", *o.Animate))
	}
	if o.SpinnerType != "" {
		parts = append(parts, "spinner="+o.SpinnerType)
	}
	if o.ProgressMode != "" {
		parts = append(parts, "mode="+o.ProgressMode)
	}
	if o.Message != "" {
		parts = append(parts, fmt.Sprintf("message=%q", o.Message))
	}
	if o.Urgent {
		parts = append(parts, "urgent")
	}
	if len(parts) == 0 {
		return "-"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func runServe(ctx context.Context, logger *slog.Logger, opts options) error {
	fileOpts, err := loadOptions(opts.config)
	if err != nil {
		return err
	}

	var current atomic.Pointer[prerender.Rewriter]
	rw, err := prerender.New(prerender.Options{Config: fileOpts, Logger: logger})
	if err != nil {
		return err
	}
	current.Store(rw)

	if opts.config != "" {
		updates, err := config.Watch(ctx, opts.config, logger)
		if err != nil {
			return err
		}
		go func() {
			for fresh := range updates {
				next, err := prerender.New(prerender.Options{Config: fresh, Logger: logger})
				if err != nil {
					logger.Warn("loadx: reloaded config rejected", "error", err)
					continue
				}
				current.Store(next)
				logger.Info("loadx: config reloaded", "path", opts.config)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			current.Load().Middleware(next).ServeHTTP(w, req)
		})
	})
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(demoPage))
	})

	srv := &http.Server{Addr: opts.addr, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("loadx: serving", "addr", opts.addr)

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

const demoPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>loadx demo</title></head>
<body>
  <h1>loadx prerender demo</h1>
  <section id="cart" lx-loading lx-strategy="skeleton" lx-rows="3">
    <h2>Your cart</h2>
    <p>3 items, ready to check out.</p>
  </section>
  <div id="status" lx-loading lx-strategy="spinner" lx-spinner-type="dots">
    Order status
  </div>
  <div id="upload" lx-loading lx-config='{"strategy":"progress","value":40,"max":100}'>
    Uploading…
  </div>
  <footer lx-loading="false" lx-strategy="fade">Static footer</footer>
</body>
</html>
`
