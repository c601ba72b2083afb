// Package observability reports loading-state lifecycle events through two
// channels: capitan signals for in-process hooks, and an optional Recorder
// for persistence (see EventLog for the SQLite sink).
//
// Emission is all-or-nothing per engine: a nil *Tap is silent, so callers
// hold one unconditionally and the telemetry switch decides whether it is
// ever constructed. Every Tap method is safe on a nil receiver and must not
// block; persistence is async and buffer overflow drops events rather than
// applying backpressure to DOM operations.
package observability

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Phase names the lifecycle moment an event describes. Values double as the
// phase column of the loadx_events table.
type Phase string

const (
	PhaseApplied         Phase = "applied"
	PhaseRemoveRequested Phase = "remove_requested"
	PhaseRemoveCompleted Phase = "remove_completed"
	PhaseProgress        Phase = "progress"
	PhaseAnnounced       Phase = "announced"
	PhaseWatchBatch      Phase = "watch_batch"
	PhaseOperation       Phase = "operation"
	PhaseFallback        Phase = "fallback"
)

// Event is one lifecycle observation, shaped for the persistence sink.
// Element is the short descriptor from dom.Element.String. Value carries the
// phase's magnitude: progress percent for PhaseProgress, activations for
// PhaseWatchBatch, zero elsewhere.
type Event struct {
	Phase    Phase
	Element  string
	Strategy string
	Detail   string
	Error    string
	Value    int
	Elapsed  time.Duration
	At       time.Time
}

// Recorder receives lifecycle events for persistence. Record is called
// inline from DOM mutation paths and must not block.
type Recorder interface {
	Record(ev Event)
}

// Tap fans lifecycle events out to capitan and to an optional Recorder.
// The zero value is never used; a nil Tap means telemetry is off.
type Tap struct {
	sink Recorder
}

// NewTap builds a tap. sink may be nil, in which case only capitan signals
// are emitted.
func NewTap(sink Recorder) *Tap {
	return &Tap{sink: sink}
}

func (t *Tap) record(ev Event) {
	if t.sink != nil {
		t.sink.Record(ev)
	}
}

// Applied reports a loading state installed on an element.
func (t *Tap) Applied(element, strategy string) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), Applied,
		KeyElement.Field(element),
		KeyStrategy.Field(strategy),
	)
	t.record(Event{Phase: PhaseApplied, Element: element, Strategy: strategy})
}

// RemoveRequested reports that removal was scheduled for an active element.
// The state may still be held back by the minimum display time.
func (t *Tap) RemoveRequested(element, strategy string) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), RemoveRequested,
		KeyElement.Field(element),
		KeyStrategy.Field(strategy),
	)
	t.record(Event{Phase: PhaseRemoveRequested, Element: element, Strategy: strategy})
}

// RemoveCompleted reports content restored after a loading cycle. elapsed is
// the time the state was active.
func (t *Tap) RemoveCompleted(element, strategy string, elapsed time.Duration) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), RemoveCompleted,
		KeyElement.Field(element),
		KeyStrategy.Field(strategy),
		KeyElapsed.Field(elapsed),
	)
	t.record(Event{Phase: PhaseRemoveCompleted, Element: element, Strategy: strategy, Elapsed: elapsed})
}

// Progress reports an in-place progress bar update.
func (t *Tap) Progress(element string, percent int) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), ProgressUpdated,
		KeyElement.Field(element),
		KeyPercent.Field(percent),
	)
	t.record(Event{Phase: PhaseProgress, Element: element, Strategy: "progress", Value: percent})
}

// Announced reports a message queued on the live region. level is the ARIA
// politeness the message was spoken at.
func (t *Tap) Announced(message, level string) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), Announced,
		KeyMessage.Field(message),
		KeyLevel.Field(level),
	)
	t.record(Event{Phase: PhaseAnnounced, Detail: message + " (" + level + ")"})
}

// WatchBatch reports one debounced mutation batch: how many candidates were
// scanned and how many came up for activation.
func (t *Tap) WatchBatch(scanned, activated int) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), WatchBatch,
		KeyScanned.Field(scanned),
		KeyActivated.Field(activated),
	)
	t.record(Event{Phase: PhaseWatchBatch, Value: activated})
}

// Operation reports a settled instrumented async operation. source is the
// transport that carried it ("fetch", "xhr", "htmx", "form"); err is nil
// when it settled cleanly.
func (t *Tap) Operation(element, source string, err error) {
	if t == nil {
		return
	}
	ev := Event{Phase: PhaseOperation, Element: element, Detail: source}
	if err != nil {
		ev.Error = err.Error()
		capitan.Emit(context.Background(), OperationSettled,
			KeyElement.Field(element),
			KeySource.Field(source),
			KeyError.Field(err.Error()),
		)
	} else {
		capitan.Emit(context.Background(), OperationSettled,
			KeyElement.Field(element),
			KeySource.Field(source),
		)
	}
	t.record(ev)
}

// Fallback reports a form fallback timer firing before any real cleanup.
func (t *Tap) Fallback(element string) {
	if t == nil {
		return
	}
	capitan.Emit(context.Background(), FallbackFired,
		KeyElement.Field(element),
	)
	t.record(Event{Phase: PhaseFallback, Element: element})
}
