package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector support is a small CSS subset, enough for loading-state markup:
//
//   - tag:            "div", "form"
//   - .class:         ".lx-busy"
//   - #id:            "#main-content"
//   - [attr]:         "[lx-loading]"
//   - [attr=val]:     "[aria-live=polite]"
//   - compounds:      "div.card[data-lx]"
//   - descendants:    "form button" (space combinator)
//   - lists:          "[lx-loading], .lx-spinner" (comma)
//
// Anything else is a parse error.

type selector struct {
	chains [][]simpleSelector
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
	hasVal  bool
}

func parseSelector(s string) (*selector, error) {
	var sel selector
	for _, alt := range strings.Split(s, ",") {
		parts := strings.Fields(alt)
		if len(parts) == 0 {
			return nil, fmt.Errorf("dom: empty selector in %q", s)
		}
		chain := make([]simpleSelector, 0, len(parts))
		for _, p := range parts {
			ss, err := parseSimple(p)
			if err != nil {
				return nil, err
			}
			chain = append(chain, ss)
		}
		sel.chains = append(sel.chains, chain)
	}
	return &sel, nil
}

// parseSimple parses one compound: "tag.class", "#id", "tag[attr=val]".
func parseSimple(part string) (simpleSelector, error) {
	var s simpleSelector
	rest := part

	if idx := strings.IndexByte(rest, '['); idx >= 0 {
		attrPart, ok := strings.CutSuffix(rest[idx+1:], "]")
		if !ok {
			return s, fmt.Errorf("dom: unterminated attribute selector %q", part)
		}
		rest = rest[:idx]
		if k, v, ok := strings.Cut(attrPart, "="); ok {
			s.attrKey = k
			s.attrVal = strings.Trim(v, `"'`)
			s.hasVal = true
		} else {
			s.attrKey = attrPart
		}
	}
	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		s.id = rest[idx+1:]
		rest = rest[:idx]
	}
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		s.class = rest[idx+1:]
		rest = rest[:idx]
	}
	if strings.ContainsAny(rest, ">+~:*") {
		return s, fmt.Errorf("dom: unsupported selector %q", part)
	}
	s.tag = rest
	if s.tag == "" && s.id == "" && s.class == "" && s.attrKey == "" {
		return s, fmt.Errorf("dom: empty selector part in %q", part)
	}
	return s, nil
}

// matches applies right-to-left matching: the last compound must match n,
// earlier compounds must match some chain of ancestors in order.
func (s *selector) matches(n *html.Node) bool {
	for _, chain := range s.chains {
		if chainMatches(chain, n) {
			return true
		}
	}
	return false
}

func chainMatches(chain []simpleSelector, n *html.Node) bool {
	last := len(chain) - 1
	if !simpleMatches(chain[last], n) {
		return false
	}
	anc := n.Parent
	for i := last - 1; i >= 0; i-- {
		for {
			if anc == nil {
				return false
			}
			if anc.Type == html.ElementNode && simpleMatches(chain[i], anc) {
				anc = anc.Parent
				break
			}
			anc = anc.Parent
		}
	}
	return true
}

func simpleMatches(s simpleSelector, n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && nodeAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(nodeAttr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		var present bool
		var val string
		for _, a := range n.Attr {
			if a.Key == s.attrKey {
				present = true
				val = a.Val
				break
			}
		}
		if !present {
			return false
		}
		if s.hasVal && val != s.attrVal {
			return false
		}
	}
	return true
}

// querySelectorAll walks the subtree under root (inclusive) and returns
// matching element nodes in document order.
func querySelectorAll(root *html.Node, sel string) []*html.Node {
	parsed, err := parseSelector(sel)
	if err != nil {
		return nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && parsed.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
