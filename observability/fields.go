package observability

import "github.com/zoobzio/capitan"

// Typed field keys carried on the signals above. Read them in hooks with
// Key.From(event).
var (
	// KeyElement is the short element descriptor, e.g. "<div#cart>".
	KeyElement = capitan.NewStringKey("element")

	// KeyStrategy is the strategy name: spinner, skeleton, progress, fade.
	KeyStrategy = capitan.NewStringKey("strategy")

	// KeyMessage is the announced live-region text.
	KeyMessage = capitan.NewStringKey("message")

	// KeyLevel is the ARIA politeness a message was spoken at.
	KeyLevel = capitan.NewStringKey("level")

	// KeySource names the transport behind an operation: fetch, xhr,
	// htmx or form.
	KeySource = capitan.NewStringKey("source")

	// KeyError carries the failure description of a settled operation.
	KeyError = capitan.NewStringKey("error")

	// KeyElapsed is how long a loading state was active.
	KeyElapsed = capitan.NewDurationKey("elapsed")

	// KeyPercent is the clamped progress value.
	KeyPercent = capitan.NewIntKey("percent")

	// KeyScanned counts candidates examined in a watch batch.
	KeyScanned = capitan.NewIntKey("scanned")

	// KeyActivated counts elements activated by a watch batch.
	KeyActivated = capitan.NewIntKey("activated")
)
