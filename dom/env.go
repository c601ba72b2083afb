package dom

// Box is the measured layout of one element, in CSS pixels. MinWidth and
// MinHeight carry the computed min-size values verbatim ("0px", "auto",
// possibly empty when the host cannot report them).
type Box struct {
	Width     float64
	Height    float64
	MinWidth  string
	MinHeight string
	BoxSizing string // "content-box" or "border-box"
}

// Metrics is implemented by hosts that can measure layout. A plain parsed
// document has no layout; size locking and skeleton box matching only
// engage when a metrics provider is attached (see rodhost).
type Metrics interface {
	// Box measures an element. ok is false when the element has no
	// layout (display:none, detached, host cannot measure).
	Box(el *Element) (box Box, ok bool)
}

// ResizeObserver is the optional upgrade a Metrics provider offers when
// the host can watch content-box resizes. Callers type-assert for it; a
// provider without it means the primitive is unavailable.
type ResizeObserver interface {
	// ObserveResize invokes fn on every observed size change until the
	// returned stop function is called. ok is false when the element
	// cannot be observed.
	ObserveResize(el *Element, fn func(Box)) (stop func(), ok bool)
}

// Environment exposes host preferences that tune strategy behaviour.
type Environment interface {
	// ReducedMotion reports the prefers-reduced-motion media preference.
	ReducedMotion() bool
}

// StaticEnvironment is a fixed Environment, handy for tests and servers.
type StaticEnvironment struct {
	PrefersReducedMotion bool
}

func (s StaticEnvironment) ReducedMotion() bool { return s.PrefersReducedMotion }
