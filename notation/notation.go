// Package notation parses loading-state declarations off host elements.
//
// Five syntaxes are recognized, highest precedence first: a JSON config
// attribute (lx-config), a verbose attribute (lx-strategy), a data
// attribute (data-lx-strategy), a colon class (lx:skeleton:3:500), and a
// simple class (lx-skeleton). The first syntax present on the element wins;
// discrete attributes such as lx-duration then layer on top. The colon and
// simple class forms are legacy syntax, kept for markup written against
// old releases.
package notation

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/loadx/dom"
)

// DefaultPrefix is the attribute/class namespace used when none is given.
const DefaultPrefix = "lx"

// Source identifies which syntax supplied the strategy.
type Source string

const (
	SourceCache       Source = "cache"
	SourceJSON        Source = "json"
	SourceAttr        Source = "attr"
	SourceDataAttr    Source = "data-attr"
	SourceColonClass  Source = "colon-class"
	SourceSimpleClass Source = "simple-class"
	SourceDefault     Source = "default"
)

// Legacy reports whether the source is one of the deprecated class forms.
func (s Source) Legacy() bool {
	return s == SourceColonClass || s == SourceSimpleClass
}

// Options is the resolved option bag for one element. Pointer fields are
// nil when the notation did not mention them; strategies fall back to
// their own defaults.
type Options struct {
	Strategy    string
	Source      Source
	LegacyClass string // offending class token when Source is legacy

	Duration     *int     // ms, fade transition
	Value        *float64 // progress value
	Max          *float64 // progress max
	Rows         *int     // skeleton row override
	MinHeight    *int     // px
	Animate      *bool    // false suppresses shimmer/spin
	Loading      *bool    // explicit auto-loading toggle
	Urgent       bool     // assertive announcements
	SpinnerType  string   // circle | dots | bars
	SpinnerSize  string
	SpinnerColor string
	ProgressMode string // determinate | indeterminate
	Message      string
}

// builtins are the strategy names the simple class form may declare.
// Restricting the set keeps engine marker classes (lx-busy) from parsing
// as strategies.
var builtins = map[string]bool{
	"spinner":  true,
	"skeleton": true,
	"progress": true,
	"fade":     true,
}

var digitsRE = regexp.MustCompile(`^[0-9]+$`)

// NormalizeStrategy lowercases and trims a strategy name; empty collapses
// to "spinner".
func NormalizeStrategy(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "spinner"
	}
	return s
}

// Parse reads the first notation syntax present on el, then layers the
// discrete attributes on top. It never fails: malformed JSON is logged at
// debug level and skipped, bad numeric values are ignored rather than
// coerced. The zero Options with Source == SourceDefault means "nothing
// declared".
func Parse(el *dom.Element, prefix string, logger *slog.Logger) Options {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	opts := Options{Source: SourceDefault}
	if el == nil {
		return opts
	}

	if raw := el.Attr(prefix + "-config"); raw != "" {
		if parsed, ok := parseJSONConfig(raw, logger, el); ok {
			opts = parsed
			opts.Source = SourceJSON
		}
	}
	if opts.Source == SourceDefault {
		if s := el.Attr(prefix + "-strategy"); strings.TrimSpace(s) != "" {
			opts.Strategy = s
			opts.Source = SourceAttr
		}
	}
	if opts.Source == SourceDefault {
		if s := el.Attr("data-" + prefix + "-strategy"); strings.TrimSpace(s) != "" {
			opts.Strategy = s
			opts.Source = SourceDataAttr
		}
	}
	if opts.Source == SourceDefault {
		if colon, ok := parseColonClass(el, prefix); ok {
			opts = colon
		}
	}
	if opts.Source == SourceDefault {
		for _, c := range el.Classes() {
			name, ok := strings.CutPrefix(c, prefix+"-")
			if !ok || !builtins[name] {
				continue
			}
			opts.Strategy = name
			opts.Source = SourceSimpleClass
			opts.LegacyClass = c
			break
		}
	}

	layerAttrs(&opts, el, prefix)
	return opts
}

func parseJSONConfig(raw string, logger *slog.Logger, el *dom.Element) (Options, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		logger.Debug("notation: malformed JSON config skipped",
			"element", el.String(), "error", err)
		return Options{}, false
	}
	var o Options
	if s, ok := m["strategy"].(string); ok {
		o.Strategy = s
	}
	if n, ok := m["duration"].(float64); ok && n >= 0 {
		v := int(n)
		o.Duration = &v
	}
	if n, ok := m["value"].(float64); ok {
		o.Value = &n
	}
	if n, ok := m["max"].(float64); ok {
		o.Max = &n
	}
	if n, ok := m["rows"].(float64); ok && n >= 0 {
		v := int(n)
		o.Rows = &v
	}
	if n, ok := m["minHeight"].(float64); ok && n >= 0 {
		v := int(n)
		o.MinHeight = &v
	}
	if b, ok := m["animate"].(bool); ok {
		o.Animate = &b
	}
	if b, ok := m["loading"].(bool); ok {
		o.Loading = &b
	}
	if b, ok := m["urgent"].(bool); ok {
		o.Urgent = b
	}
	if s, ok := m["spinnerType"].(string); ok {
		o.SpinnerType = s
	}
	if s, ok := m["spinnerSize"].(string); ok {
		o.SpinnerSize = s
	}
	if s, ok := m["spinnerColor"].(string); ok {
		o.SpinnerColor = s
	}
	if s, ok := m["progressMode"].(string); ok {
		o.ProgressMode = s
	}
	if s, ok := m["message"].(string); ok {
		o.Message = s
	}
	return o, true
}

// parseColonClass reads the first class shaped like
// "<prefix>:<strategy>[:<param>[:<duration>]]". The param slot is
// strategy-specific: spinner type, skeleton row count, progress mode, or
// fade duration. The trailing slot is always a duration in ms.
func parseColonClass(el *dom.Element, prefix string) (Options, bool) {
	for _, c := range el.Classes() {
		rest, ok := strings.CutPrefix(c, prefix+":")
		if !ok || rest == "" {
			continue
		}
		parts := strings.Split(rest, ":")
		o := Options{
			Strategy:    parts[0],
			Source:      SourceColonClass,
			LegacyClass: c,
		}
		if len(parts) > 1 && parts[1] != "" {
			applyColonParam(&o, NormalizeStrategy(parts[0]), parts[1])
		}
		if len(parts) > 2 && digitsRE.MatchString(parts[2]) {
			v, _ := strconv.Atoi(parts[2])
			o.Duration = &v
		}
		return o, true
	}
	return Options{}, false
}

func applyColonParam(o *Options, strategy, param string) {
	switch strategy {
	case "spinner":
		o.SpinnerType = param
	case "skeleton":
		if digitsRE.MatchString(param) {
			v, _ := strconv.Atoi(param)
			o.Rows = &v
		}
	case "progress":
		o.ProgressMode = param
	case "fade":
		if digitsRE.MatchString(param) {
			v, _ := strconv.Atoi(param)
			o.Duration = &v
		}
	}
}

// layerAttrs overlays the discrete lx-* attributes onto a parsed bag.
// Numeric attributes must be digits-only or they are ignored.
func layerAttrs(o *Options, el *dom.Element, prefix string) {
	if v, ok := intAttr(el, prefix+"-duration"); ok {
		o.Duration = &v
	}
	if v, ok := intAttr(el, prefix+"-value"); ok {
		f := float64(v)
		o.Value = &f
	}
	if v, ok := intAttr(el, prefix+"-max"); ok {
		f := float64(v)
		o.Max = &f
	}
	if v, ok := intAttr(el, prefix+"-rows"); ok {
		o.Rows = &v
	}
	if v, ok := intAttr(el, prefix+"-min-height"); ok {
		o.MinHeight = &v
	}
	if el.HasAttr(prefix + "-animate") {
		b := el.Attr(prefix+"-animate") != "false"
		o.Animate = &b
	}
	if el.HasAttr(prefix + "-loading") {
		b := el.Attr(prefix+"-loading") != "false"
		o.Loading = &b
	}
	if el.HasAttr(prefix + "-urgent") {
		o.Urgent = el.Attr(prefix+"-urgent") != "false"
	}
	if v := el.Attr(prefix + "-spinner-type"); v != "" {
		o.SpinnerType = v
	}
	if v := el.Attr(prefix + "-spinner-size"); v != "" {
		o.SpinnerSize = v
	}
	if v := el.Attr(prefix + "-spinner-color"); v != "" {
		o.SpinnerColor = v
	}
	if v := el.Attr(prefix + "-progress-mode"); v != "" {
		o.ProgressMode = v
	}
	if v := el.Attr(prefix + "-message"); v != "" {
		o.Message = v
	}
}

func intAttr(el *dom.Element, name string) (int, bool) {
	raw := el.Attr(name)
	if raw == "" || !digitsRE.MatchString(raw) {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Declared reports whether el carries any notation at all, cheap enough to
// run against every element in a mutation batch.
func Declared(el *dom.Element, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if el.HasAttr(prefix+"-config") || el.HasAttr(prefix+"-strategy") ||
		el.HasAttr("data-"+prefix+"-strategy") || el.HasAttr(prefix+"-loading") {
		return true
	}
	for _, c := range el.Classes() {
		if strings.HasPrefix(c, prefix+":") {
			return true
		}
		if name, ok := strings.CutPrefix(c, prefix+"-"); ok && builtins[name] {
			return true
		}
	}
	return false
}

// WatchedAttrs lists the attributes whose changes should re-trigger
// resolution for a given prefix. class is included for the legacy forms.
func WatchedAttrs(prefix string) []string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return []string{
		prefix + "-config",
		prefix + "-strategy",
		"data-" + prefix + "-strategy",
		prefix + "-loading",
		"class",
	}
}
