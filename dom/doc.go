// Package dom provides the HTML document model the loadx engine operates on.
//
// A Document wraps a golang.org/x/net/html parse tree and adds what a
// loading-state engine needs from a host page: stable element handles,
// a mutation feed, a synchronous event bus, focus tracking, and an optional
// layout environment (box metrics, reduced-motion preference).
//
// dom holds state, it does not interpret. Notation parsing, strategy
// application, and scheduling live in the packages above it; hosts that
// mirror a live browser page implement the Metrics/Environment interfaces
// (see the rodhost package).
//
// All mutations made through the Document API are serialized by an internal
// mutex, so timer callbacks and caller goroutines may touch the same
// document without racing. The engine still assumes event-loop style usage:
// one logical writer at a time, deferred continuations for everything else.
package dom
