// Package watch provides the "observe DOM changes, debounce, activate"
// loop. Elements that gain loading notation after the initial page load,
// whether inserted wholesale or re-annotated via attribute changes, get
// picked up here and handed to the notation resolver, so that every
// consumer gets consistent debounce windows and observability for free.
//
// Typical usage:
//
//	w := watch.New(doc, resolver, activate, watch.Options{Debounce: 50 * time.Millisecond})
//	go w.Run(ctx)
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/observability"
)

// DefaultDebounce is the quiet period after a burst of mutation records
// before the batch is processed.
const DefaultDebounce = 50 * time.Millisecond

// Bridge is an external change-notification source. When supplied it is
// preferred over the document's native mutation feed, letting a host
// (live browser, test harness) forward its own observer records.
type Bridge interface {
	// Changes delivers mutation records until ctx is cancelled. The
	// channel closing means the bridge is done.
	Changes(ctx context.Context) (<-chan dom.Mutation, error)
}

// Activator puts a loading state up for one discovered element.
type Activator func(el *dom.Element, opts notation.Options)

// Options tunes the watcher behaviour.
type Options struct {
	// Debounce is the quiet period after a change before the batch is
	// scanned. More records during the window reset the timer. Negative
	// means scan on every record. Default: DefaultDebounce.
	Debounce time.Duration
	// Buffer sizes the native mutation subscription. Default: 256.
	Buffer int
	// Bridge overrides the native document mutation feed.
	Bridge Bridge
	// Clock overrides the wall clock, for tests.
	Clock clockz.Clock
	// Prefix is the notation namespace. Default: notation.DefaultPrefix.
	Prefix string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Obs reports batch telemetry. Nil means off.
	Obs *observability.Tap
}

func (o *Options) defaults() {
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.Clock == nil {
		o.Clock = clockz.RealClock
	}
	if o.Prefix == "" {
		o.Prefix = notation.DefaultPrefix
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher turns mutation records into loading-state activations. It is
// safe for concurrent use.
type Watcher struct {
	doc      *dom.Document
	resolver *notation.Resolver
	activate Activator
	opts     Options

	// Native mutation subscription, opened in New so records emitted
	// before Run is scheduled are buffered rather than lost.
	feed     <-chan dom.Mutation
	stopFeed func()

	// Counters for observability (exported via Stats).
	batches   atomic.Int64
	scanned   atomic.Int64
	activated atomic.Int64
	errors    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Batches   int64 `json:"batches"`
	Scanned   int64 `json:"scanned"`
	Activated int64 `json:"activated"`
	Errors    int64 `json:"errors"`
}

// New creates a Watcher and subscribes to the document's mutation feed.
// Call Run to start the loop; until then records accumulate in the
// subscription buffer, so changes made between New and Run are still seen.
func New(doc *dom.Document, resolver *notation.Resolver, activate Activator, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{doc: doc, resolver: resolver, activate: activate, opts: opts}
	w.feed, w.stopFeed = doc.Mutations(opts.Buffer)
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Batches:   w.batches.Load(),
		Scanned:   w.scanned.Load(),
		Activated: w.activated.Load(),
		Errors:    w.errors.Load(),
	}
}

// Run blocks until ctx is cancelled, collecting mutation records and
// processing them in debounced batches. Records preserve arrival order
// within a batch; processing order of distinct elements is unspecified
// beyond that.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger

	defer w.stopFeed()
	ch := w.feed
	if w.opts.Bridge != nil {
		bch, err := w.opts.Bridge.Changes(ctx)
		if err != nil {
			w.errors.Add(1)
			log.Warn("watch: bridge unavailable, using document feed", "error", err)
		} else {
			w.stopFeed()
			ch = bch
		}
	}

	watched := make(map[string]bool)
	for _, a := range notation.WatchedAttrs(w.opts.Prefix) {
		watched[a] = true
	}

	var pending []dom.Mutation
	var debounce clockz.Timer
	var debounceCh <-chan time.Time

	log.Info("watch: started", "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if debounce != nil {
				debounce.Stop()
			}
			return

		case m, ok := <-ch:
			if !ok {
				log.Info("watch: feed closed")
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
			switch m.Op {
			case dom.OpInsert, dom.OpText:
			case dom.OpAttr, dom.OpAttrDel:
				if !watched[m.Name] {
					continue
				}
			default:
				continue
			}
			pending = append(pending, m)

			if w.opts.Debounce <= 0 {
				w.process(pending)
				pending = nil
				continue
			}
			if debounce == nil {
				debounce = w.opts.Clock.NewTimer(w.opts.Debounce)
				debounceCh = debounce.C()
			} else {
				if !debounce.Stop() {
					select {
					case <-debounceCh:
					default:
					}
				}
				debounce.Reset(w.opts.Debounce)
			}

		case <-debounceCh:
			w.process(pending)
			pending = nil
		}
	}
}

// process scans one debounced batch: inserted or rewritten elements and
// their descendants, plus elements whose watched attribute changed. Text
// records cover SetInnerHTML, whose new subtree arrives without per-node
// insert records.
func (w *Watcher) process(batch []dom.Mutation) {
	if len(batch) == 0 {
		return
	}
	w.batches.Add(1)
	scanned0, activated0 := w.scanned.Load(), w.activated.Load()

	seen := make(map[uint64]struct{})
	for _, m := range batch {
		el := w.doc.Element(m.Target)
		if el == nil {
			// Inserted and removed again within the debounce window.
			continue
		}
		w.consider(el, seen)
		if m.Op == dom.OpInsert || m.Op == dom.OpText {
			w.considerDescendants(el, seen)
		}
	}

	w.opts.Obs.WatchBatch(
		int(w.scanned.Load()-scanned0),
		int(w.activated.Load()-activated0),
	)
}

func (w *Watcher) considerDescendants(el *dom.Element, seen map[uint64]struct{}) {
	for _, c := range el.Children() {
		w.consider(c, seen)
		w.considerDescendants(c, seen)
	}
}

// consider activates el when it declares loading notation, is not already
// tracked, and is not part of loading markup the engine itself injected.
func (w *Watcher) consider(el *dom.Element, seen map[uint64]struct{}) {
	if _, dup := seen[el.ID()]; dup {
		return
	}
	seen[el.ID()] = struct{}{}
	w.scanned.Add(1)

	if el.HasAttr(w.trackedAttr()) {
		return
	}
	if !notation.Declared(el, w.opts.Prefix) {
		return
	}
	// Injected strategy markup carries notation-shaped class names; an
	// active ancestor (or self) means this subtree is ours, not the
	// host's.
	if el.Closest("[data-"+w.opts.Prefix+"-active]") != nil {
		return
	}

	opts, err := w.resolver.Resolve(el)
	if err != nil {
		w.errors.Add(1)
		w.opts.Logger.Warn("watch: notation rejected", "element", el.String(), "error", err)
		return
	}
	if opts.Loading != nil && !*opts.Loading {
		// Declared but explicitly opted out of auto-activation; mark it
		// so attribute churn does not rescan it every batch.
		el.SetAttr(w.trackedAttr(), "true")
		return
	}

	w.activate(el, opts)
	el.SetAttr(w.trackedAttr(), "true")
	w.activated.Add(1)
	w.opts.Logger.Debug("watch: activated", "element", el.String(), "strategy", opts.Strategy)
}

func (w *Watcher) trackedAttr() string {
	return "data-" + w.opts.Prefix + "-tracked"
}
