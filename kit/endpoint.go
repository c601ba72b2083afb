// Package kit is the transport plumbing shared by the exposed surfaces:
// a transport-neutral Endpoint shape, composable middleware, request
// context accessors, and the MCP tool adapter.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is the transport-neutral unit of work: decoded request in,
// response out. Transports (MCP, HTTP, CLI) adapt to and from it.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is outermost: the
// request enters Chain(a, b, c) through a and leaves through a.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Logging reports each call's duration and outcome at debug level, with
// the transport and request ID from the context when present.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				attrs = append(attrs, "error", err)
				logger.Warn("endpoint failed", attrs...)
				return resp, err
			}
			logger.Debug("endpoint ok", attrs...)
			return resp, nil
		}
	}
}
