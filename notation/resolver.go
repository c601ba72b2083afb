package notation

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/hazyhaar/loadx/dom"
)

// Cache is an optional precomputed-configuration collaborator. A hit whose
// Strategy is non-empty is used verbatim, bypassing attribute parsing.
// Implementations must be O(1) per lookup.
type Cache interface {
	Lookup(el *dom.Element) (Options, bool)
}

// Resolver turns an element into its loading options, consulting the cache
// first, then the notation parser, then falling back to a plain spinner.
type Resolver struct {
	// Prefix is the attribute/class namespace; empty means DefaultPrefix.
	Prefix string
	// Cache is consulted before any attribute parsing. Optional.
	Cache Cache
	// Modern makes legacy class syntax a hard error instead of a warning.
	Modern bool
	// Silence suppresses legacy-syntax warnings (ignored when Modern).
	Silence bool
	// Logger receives deprecation warnings and parse debug output.
	Logger *slog.Logger

	mu     sync.Mutex
	warned map[uintptr]struct{}
}

// Resolve returns the options governing el. A nil element resolves to the
// default spinner. The returned error is non-nil only when Modern is set
// and el uses legacy class syntax.
func (r *Resolver) Resolve(el *dom.Element) (Options, error) {
	pc, _, _, _ := runtime.Caller(1)

	if el == nil {
		return Options{Strategy: "spinner", Source: SourceDefault}, nil
	}

	if r.Cache != nil {
		if hit, ok := r.Cache.Lookup(el); ok && strings.TrimSpace(hit.Strategy) != "" {
			hit.Strategy = NormalizeStrategy(hit.Strategy)
			hit.Source = SourceCache
			return hit, nil
		}
	}

	opts := Parse(el, r.Prefix, r.logger())
	if opts.Source.Legacy() {
		if r.Modern {
			return Options{}, fmt.Errorf(
				"notation: legacy class syntax %q on %s: modern syntax is enforced, move to %s-strategy or %s-config",
				opts.LegacyClass, el.String(), r.prefix(), r.prefix())
		}
		if !r.Silence {
			r.warnOnce(pc, opts.LegacyClass, el)
		}
	}

	opts.Strategy = NormalizeStrategy(opts.Strategy)
	return opts, nil
}

// warnOnce emits one deprecation warning per distinct call-site. The
// program counter of Resolve's caller keys the dedup table, so two code
// paths resolving legacy markup each get their own warning.
func (r *Resolver) warnOnce(pc uintptr, class string, el *dom.Element) {
	r.mu.Lock()
	if r.warned == nil {
		r.warned = make(map[uintptr]struct{})
	}
	if _, seen := r.warned[pc]; seen {
		r.mu.Unlock()
		return
	}
	r.warned[pc] = struct{}{}
	r.mu.Unlock()

	site := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		file, line := fn.FileLine(pc)
		site = fmt.Sprintf("%s:%d", file, line)
	}
	r.logger().Warn("deprecated loading notation",
		"class", class,
		"element", el.String(),
		"call_site", site,
		"hint", fmt.Sprintf("use %s-strategy or %s-config instead", r.prefix(), r.prefix()))
}

func (r *Resolver) prefix() string {
	if r.Prefix == "" {
		return DefaultPrefix
	}
	return r.Prefix
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
