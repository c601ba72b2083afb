package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Element is a stable handle onto one element node. Handles stay valid for
// the life of the document; after the node is detached most operations
// become no-ops and Detached reports true.
type Element struct {
	doc      *Document
	node     *html.Node
	id       uint64
	detached bool
}

// ID returns the document-unique element ID. IDs are never reused.
func (e *Element) ID() uint64 { return e.id }

// Detached reports whether the element has been removed from the tree.
func (e *Element) Detached() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.detached
}

// Tag returns the lowercase tag name.
func (e *Element) Tag() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.node.Data
}

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(key string) string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return nodeAttr(e.node, key)
}

// HasAttr reports whether the attribute is present, even if empty.
func (e *Element) HasAttr(key string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for _, a := range e.node.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Attrs returns a copy of all attributes in document order.
func (e *Element) Attrs() map[string]string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	m := make(map[string]string, len(e.node.Attr))
	for _, a := range e.node.Attr {
		m[a.Key] = a.Val
	}
	return m
}

// SetAttr sets an attribute, emitting an attr mutation when the value
// actually changes.
func (e *Element) SetAttr(key, val string) {
	e.doc.mu.Lock()
	for i, a := range e.node.Attr {
		if a.Key == key {
			if a.Val == val {
				e.doc.mu.Unlock()
				return
			}
			old := a.Val
			e.node.Attr[i].Val = val
			e.doc.emit(Mutation{Op: OpAttr, Target: e.id, Name: key, Value: val, OldValue: old})
			e.doc.mu.Unlock()
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: key, Val: val})
	e.doc.emit(Mutation{Op: OpAttr, Target: e.id, Name: key, Value: val})
	e.doc.mu.Unlock()
}

// RemoveAttr removes an attribute if present.
func (e *Element) RemoveAttr(key string) {
	e.doc.mu.Lock()
	for i, a := range e.node.Attr {
		if a.Key == key {
			e.node.Attr = append(e.node.Attr[:i], e.node.Attr[i+1:]...)
			e.doc.emit(Mutation{Op: OpAttrDel, Target: e.id, Name: key, OldValue: a.Val})
			e.doc.mu.Unlock()
			return
		}
	}
	e.doc.mu.Unlock()
}

// Classes returns the class list, split on whitespace.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

// HasClass reports whether the class list contains name.
func (e *Element) HasClass(name string) bool {
	for _, c := range e.Classes() {
		if c == name {
			return true
		}
	}
	return false
}

// AddClass appends a class if not already present.
func (e *Element) AddClass(name string) {
	cs := e.Classes()
	for _, c := range cs {
		if c == name {
			return
		}
	}
	e.SetAttr("class", strings.TrimSpace(strings.Join(append(cs, name), " ")))
}

// RemoveClass drops a class; removes the attribute when the list empties.
func (e *Element) RemoveClass(name string) {
	cs := e.Classes()
	out := cs[:0]
	found := false
	for _, c := range cs {
		if c == name {
			found = true
			continue
		}
		out = append(out, c)
	}
	if !found {
		return
	}
	if len(out) == 0 {
		e.RemoveAttr("class")
		return
	}
	e.SetAttr("class", strings.Join(out, " "))
}

// Style returns one CSS property from the inline style attribute, or "".
func (e *Element) Style(prop string) string {
	props := parseStyle(e.Attr("style"))
	for _, p := range props {
		if p.name == prop {
			return p.value
		}
	}
	return ""
}

// SetStyle sets one inline style property, preserving the others.
func (e *Element) SetStyle(prop, val string) {
	props := parseStyle(e.Attr("style"))
	for i := range props {
		if props[i].name == prop {
			props[i].value = val
			e.SetAttr("style", renderStyle(props))
			return
		}
	}
	props = append(props, styleProp{prop, val})
	e.SetAttr("style", renderStyle(props))
}

// RemoveStyle drops one inline style property; removes the attribute when
// nothing is left.
func (e *Element) RemoveStyle(prop string) {
	props := parseStyle(e.Attr("style"))
	out := props[:0]
	found := false
	for _, p := range props {
		if p.name == prop {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return
	}
	if len(out) == 0 {
		e.RemoveAttr("style")
		return
	}
	e.SetAttr("style", renderStyle(out))
}

// Parent returns the parent element, or nil at the tree top.
func (e *Element) Parent() *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := e.node.Parent
	for p != nil && p.Type != html.ElementNode {
		p = p.Parent
	}
	if p == nil {
		return nil
	}
	return e.doc.handle(p)
}

// Children returns the direct child elements.
func (e *Element) Children() []*Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var out []*Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.handle(c))
		}
	}
	return out
}

// Text returns the concatenated text content of the subtree.
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	collectText(e.node, &b)
	return b.String()
}

// SetText replaces the element's children with a single text node.
func (e *Element) SetText(s string) {
	e.doc.mu.Lock()
	ids := e.clearChildren()
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	e.doc.emit(Mutation{Op: OpText, Target: e.id, Value: s})
	hooks := append([]func(uint64){}, e.doc.onRemove...)
	e.doc.mu.Unlock()
	e.doc.fireRemovals(ids, hooks)
}

// InnerHTML serialises the element's children.
func (e *Element) InnerHTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// OuterHTML serialises the element itself.
func (e *Element) OuterHTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	_ = html.Render(&b, e.node)
	return b.String()
}

// SetInnerHTML replaces the element's children with a parsed fragment.
func (e *Element) SetInnerHTML(fragment string) error {
	nodes, err := parseFragment(fragment, e.tagName())
	if err != nil {
		return err
	}
	e.doc.mu.Lock()
	ids := e.clearChildren()
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	e.doc.emit(Mutation{Op: OpText, Target: e.id, Value: fragment})
	hooks := append([]func(uint64){}, e.doc.onRemove...)
	e.doc.mu.Unlock()
	e.doc.fireRemovals(ids, hooks)
	return nil
}

// AppendHTML parses a fragment and appends it to the element's children.
func (e *Element) AppendHTML(fragment string) error {
	nodes, err := parseFragment(fragment, e.tagName())
	if err != nil {
		return err
	}
	e.doc.mu.Lock()
	for _, n := range nodes {
		e.node.AppendChild(n)
		if n.Type == html.ElementNode {
			e.doc.emit(Mutation{Op: OpInsert, Target: e.doc.handle(n).id})
		}
	}
	e.doc.mu.Unlock()
	return nil
}

// AppendChild attaches a detached element as the last child.
func (e *Element) AppendChild(child *Element) {
	e.doc.mu.Lock()
	if child.node.Parent != nil {
		child.node.Parent.RemoveChild(child.node)
	}
	e.node.AppendChild(child.node)
	child.detached = false
	e.doc.emit(Mutation{Op: OpInsert, Target: child.id})
	e.doc.mu.Unlock()
}

// InsertBefore attaches a detached element before the given child.
func (e *Element) InsertBefore(child, before *Element) {
	e.doc.mu.Lock()
	if child.node.Parent != nil {
		child.node.Parent.RemoveChild(child.node)
	}
	e.node.InsertBefore(child.node, before.node)
	child.detached = false
	e.doc.emit(Mutation{Op: OpInsert, Target: child.id})
	e.doc.mu.Unlock()
}

// Remove detaches the element from the tree and evicts its subtree's
// handles. Removal hooks fire after the lock is released.
func (e *Element) Remove() {
	e.doc.mu.Lock()
	if e.node.Parent == nil {
		e.doc.mu.Unlock()
		return
	}
	e.node.Parent.RemoveChild(e.node)
	ids := e.doc.evict(e.node)
	e.doc.emit(Mutation{Op: OpRemove, Target: e.id})
	hooks := append([]func(uint64){}, e.doc.onRemove...)
	e.doc.mu.Unlock()
	e.doc.fireRemovals(ids, hooks)
}

// Matches reports whether the element matches a simple selector.
func (e *Element) Matches(selector string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := parseSelector(selector)
	if err != nil {
		return false
	}
	return sel.matches(e.node)
}

// Closest walks up from the element (inclusive) to the first ancestor
// matching the selector, or nil.
func (e *Element) Closest(selector string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := parseSelector(selector)
	if err != nil {
		return nil
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.matches(n) {
			return e.doc.handle(n)
		}
	}
	return nil
}

// Find returns the first descendant matching the selector, or nil.
func (e *Element) Find(selector string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes := querySelectorAll(e.node, selector)
	if len(nodes) == 0 {
		return nil
	}
	return e.doc.handle(nodes[0])
}

// FindAll returns all descendants matching the selector.
func (e *Element) FindAll(selector string) []*Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes := querySelectorAll(e.node, selector)
	els := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, e.doc.handle(n))
	}
	return els
}

// Document returns the owning document.
func (e *Element) Document() *Document { return e.doc }

// String implements fmt.Stringer for log output.
func (e *Element) String() string {
	tag := e.Tag()
	if id := e.Attr("id"); id != "" {
		return fmt.Sprintf("<%s#%s>", tag, id)
	}
	return fmt.Sprintf("<%s:%d>", tag, e.id)
}

// clearChildren detaches all children and returns the evicted element IDs.
// Caller holds doc.mu.
func (e *Element) clearChildren() []uint64 {
	var ids []uint64
	for e.node.FirstChild != nil {
		c := e.node.FirstChild
		e.node.RemoveChild(c)
		ids = append(ids, e.doc.evict(c)...)
	}
	return ids
}

func (e *Element) tagName() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.node.Data
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// parseFragment parses HTML in the context of the named parent tag so that
// table rows, list items and the like survive the round trip.
func parseFragment(fragment, contextTag string) ([]*html.Node, error) {
	ctx := newElementNode(contextTag)
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

type styleProp struct {
	name  string
	value string
}

func parseStyle(s string) []styleProp {
	var out []styleProp
	for _, decl := range strings.Split(s, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out = append(out, styleProp{strings.TrimSpace(k), strings.TrimSpace(v)})
	}
	return out
}

func renderStyle(props []styleProp) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, p.name+": "+p.value)
	}
	return strings.Join(parts, "; ")
}
