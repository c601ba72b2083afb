package observability

import "github.com/zoobzio/capitan"

// Loading-cycle signals. Hook these with capitan.Hook to follow state
// transitions without touching the engine.
var (
	// Applied fires after a loading state is installed on an element.
	Applied = capitan.NewSignal("loadx.apply.applied", "Loading state applied to an element")

	// RemoveRequested fires when a removal is scheduled, before any
	// minimum display time has run out.
	RemoveRequested = capitan.NewSignal("loadx.remove.requested", "Removal requested for an active element")

	// RemoveCompleted fires after the original content is restored.
	RemoveCompleted = capitan.NewSignal("loadx.remove.completed", "Loading state removed and content restored")

	// ProgressUpdated fires on each in-place progress bar update.
	ProgressUpdated = capitan.NewSignal("loadx.progress.updated", "Progress value changed on an active bar")
)

// Ambient activity signals.
var (
	// Announced fires when a message is queued on the ARIA live region.
	Announced = capitan.NewSignal("loadx.announce.spoken", "Message queued on the live region")

	// WatchBatch fires once per debounced mutation batch the watcher scans.
	WatchBatch = capitan.NewSignal("loadx.watch.batch", "Watcher processed a mutation batch")

	// OperationSettled fires when an instrumented async operation finishes,
	// successfully or not.
	OperationSettled = capitan.NewSignal("loadx.instrument.operation", "Instrumented async operation settled")

	// FallbackFired fires when a form fallback timer expires before any
	// real cleanup reached the element.
	FallbackFired = capitan.NewSignal("loadx.fallback.fired", "Form fallback timer fired before cleanup")
)
