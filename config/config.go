// Package config validates and normalizes loadx engine options.
//
// Options fields are deliberately untyped: callers hand over whatever a
// host page or config file produced, and Validate turns type mismatches
// into descriptive errors instead of compile failures. Normalize overlays
// the recognized fields onto defaults and returns an immutable Config.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// Options is the raw option bag accepted by engine.New. Every field may be
// nil, in which case its default applies. Wrong types are caught by
// Validate, not by the type system.
type Options struct {
	// MinDisplayMS: nil, int, int64, or float64. Must be >= 0.
	MinDisplayMS any
	// AutoDetect: nil, bool, AutoDetectFlags, *AutoDetectFlags, or a
	// map[string]any restricted to keys fetch/xhr/htmx/forms with
	// boolean values.
	AutoDetect any
	// Strategies: nil, []string, or []any of strings.
	Strategies any
	// Telemetry: nil or bool.
	Telemetry any
	// ModernSyntax: nil or bool.
	ModernSyntax any
	// SilenceDeprecations: nil or bool.
	SilenceDeprecations any
	// PreventCLS: nil or bool.
	PreventCLS any
}

// AutoDetectFlags selects which async sources are instrumented.
type AutoDetectFlags struct {
	Fetch bool
	XHR   bool
	HTMX  bool
	Forms bool
}

var autoDetectKeys = map[string]bool{
	"fetch": true, "xhr": true, "htmx": true, "forms": true,
}

// Validate checks an option bag without normalizing it. A nil bag is valid.
func Validate(opts *Options) error {
	if opts == nil {
		return nil
	}
	if opts.MinDisplayMS != nil {
		ms, ok := asNumber(opts.MinDisplayMS)
		if !ok {
			return fmt.Errorf("config: minDisplayMs must be a number, got %T", opts.MinDisplayMS)
		}
		if ms < 0 {
			return fmt.Errorf("config: minDisplayMs must be >= 0, got %v", ms)
		}
	}
	if opts.AutoDetect != nil {
		if err := validateAutoDetect(opts.AutoDetect); err != nil {
			return err
		}
	}
	if opts.Strategies != nil {
		if _, err := asStringSlice(opts.Strategies); err != nil {
			return err
		}
	}
	for name, v := range map[string]any{
		"telemetry":           opts.Telemetry,
		"modernSyntax":        opts.ModernSyntax,
		"silenceDeprecations": opts.SilenceDeprecations,
		"preventCLS":          opts.PreventCLS,
	} {
		if v == nil {
			continue
		}
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("config: %s must be a boolean, got %T", name, v)
		}
	}
	return nil
}

func validateAutoDetect(v any) error {
	switch ad := v.(type) {
	case bool, AutoDetectFlags, *AutoDetectFlags:
		return nil
	case map[string]any:
		var bad []string
		for k, val := range ad {
			if !autoDetectKeys[k] {
				bad = append(bad, k)
				continue
			}
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("config: autoDetect.%s must be a boolean, got %T", k, val)
			}
		}
		if len(bad) > 0 {
			sort.Strings(bad)
			return fmt.Errorf("config: autoDetect has unknown keys %v (allowed: fetch, xhr, htmx, forms)", bad)
		}
		return nil
	default:
		return fmt.Errorf("config: autoDetect must be a boolean or a flag object, got %T", v)
	}
}

// Config is the normalized, immutable engine configuration. A Config is
// shared read-only by every component; accessors return copies of any
// mutable innards so no caller can alter it after creation.
type Config struct {
	minDisplayMS        int
	autoDetect          AutoDetectFlags
	strategies          []string
	telemetry           bool
	modernSyntax        bool
	silenceDeprecations bool
	preventCLS          bool
}

// DefaultStrategies is the built-in strategy order.
var DefaultStrategies = []string{"spinner", "skeleton", "progress", "fade"}

// Normalize validates opts and overlays the recognized fields onto
// defaults. Each call returns an independent Config; two calls never share
// state.
func Normalize(opts *Options) (*Config, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}
	cfg := &Config{
		minDisplayMS: 0,
		autoDetect:   AutoDetectFlags{Fetch: true, XHR: true, HTMX: true, Forms: true},
		strategies:   append([]string(nil), DefaultStrategies...),
		preventCLS:   true,
	}
	if opts == nil {
		return cfg, nil
	}
	if opts.MinDisplayMS != nil {
		ms, _ := asNumber(opts.MinDisplayMS)
		cfg.minDisplayMS = int(ms)
	}
	if opts.AutoDetect != nil {
		cfg.autoDetect = normalizeAutoDetect(opts.AutoDetect)
	}
	if opts.Strategies != nil {
		ss, _ := asStringSlice(opts.Strategies)
		cfg.strategies = ss
	}
	if v, ok := opts.Telemetry.(bool); ok {
		cfg.telemetry = v
	}
	if v, ok := opts.ModernSyntax.(bool); ok {
		cfg.modernSyntax = v
	}
	if v, ok := opts.SilenceDeprecations.(bool); ok {
		cfg.silenceDeprecations = v
	}
	if v, ok := opts.PreventCLS.(bool); ok {
		cfg.preventCLS = v
	}
	return cfg, nil
}

func normalizeAutoDetect(v any) AutoDetectFlags {
	switch ad := v.(type) {
	case bool:
		return AutoDetectFlags{Fetch: ad, XHR: ad, HTMX: ad, Forms: ad}
	case AutoDetectFlags:
		return ad
	case *AutoDetectFlags:
		return *ad
	case map[string]any:
		// Missing sub-flags default to true.
		flags := AutoDetectFlags{Fetch: true, XHR: true, HTMX: true, Forms: true}
		if b, ok := ad["fetch"].(bool); ok {
			flags.Fetch = b
		}
		if b, ok := ad["xhr"].(bool); ok {
			flags.XHR = b
		}
		if b, ok := ad["htmx"].(bool); ok {
			flags.HTMX = b
		}
		if b, ok := ad["forms"].(bool); ok {
			flags.Forms = b
		}
		return flags
	}
	return AutoDetectFlags{Fetch: true, XHR: true, HTMX: true, Forms: true}
}

// MinDisplayMS is the minimum spinner/skeleton dwell time in milliseconds.
func (c *Config) MinDisplayMS() int { return c.minDisplayMS }

// AutoDetect reports which async sources are instrumented.
func (c *Config) AutoDetect() AutoDetectFlags { return c.autoDetect }

// Strategies returns a copy of the configured strategy order.
func (c *Config) Strategies() []string {
	return append([]string(nil), c.strategies...)
}

// Telemetry reports whether loading-cycle telemetry is recorded.
func (c *Config) Telemetry() bool { return c.telemetry }

// ModernSyntax reports whether legacy class notation is a hard error.
func (c *Config) ModernSyntax() bool { return c.modernSyntax }

// SilenceDeprecations suppresses legacy-notation warnings.
func (c *Config) SilenceDeprecations() bool { return c.silenceDeprecations }

// PreventCLS reports whether box dimensions are locked during loading.
func (c *Config) PreventCLS() bool { return c.preventCLS }

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case []any:
		out := make([]string, 0, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("config: strategies[%d] must be a string, got %T", i, e)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config: strategies must be a sequence, got %T", v)
	}
}

// String renders a compact summary for logs.
func (c *Config) String() string {
	return fmt.Sprintf("minDisplayMs=%d autoDetect={fetch:%t xhr:%t htmx:%t forms:%t} strategies=[%s] preventCLS=%t",
		c.minDisplayMS,
		c.autoDetect.Fetch, c.autoDetect.XHR, c.autoDetect.HTMX, c.autoDetect.Forms,
		strings.Join(c.strategies, " "), c.preventCLS)
}
