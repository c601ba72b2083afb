package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document wraps a parsed HTML tree with the bookkeeping the engine needs:
// stable element IDs, a mutation feed, an event bus, and focus tracking.
type Document struct {
	mu   sync.Mutex
	root *html.Node

	// Element handle arena. IDs are monotonically increasing and never
	// reused; the maps are the explicit side-table replacement for weak
	// references, evicted when nodes leave the tree.
	nextID   uint64
	ids      map[*html.Node]uint64
	handles  map[*html.Node]*Element
	byID     map[uint64]*Element
	focused  *Element
	env      Environment
	metrics  Metrics
	onRemove []func(uint64)

	subs      []*subscription
	listeners map[string][]*listener
	dropped   uint64
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{
		root:      root,
		ids:       make(map[*html.Node]uint64),
		handles:   make(map[*html.Node]*Element),
		byID:      make(map[uint64]*Element),
		listeners: make(map[string][]*listener),
	}, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// MustParse parses a document or panics. Test fixtures only.
func MustParse(s string) *Document {
	d, err := ParseString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("dom: render: %w", err)
	}
	return nil
}

// HTML returns the whole document as a string.
func (d *Document) HTML() string {
	var b strings.Builder
	_ = d.Render(&b)
	return b.String()
}

// Body returns the document body element, or nil on a degenerate tree.
func (d *Document) Body() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if n == nil {
		return nil
	}
	return d.handle(n)
}

// Head returns the document head element, or nil.
func (d *Document) Head() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Head
	})
	if n == nil {
		return nil
	}
	return d.handle(n)
}

// GetByID returns the element whose id attribute equals domID, or nil.
func (d *Document) GetByID(domID string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && nodeAttr(n, "id") == domID
	})
	if n == nil {
		return nil
	}
	return d.handle(n)
}

// CreateElement builds a detached element owned by this document.
// Attach it with AppendChild / InsertBefore on an attached element.
func (d *Document) CreateElement(tag string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := newElementNode(tag)
	return d.handle(n)
}

// Find returns the first element matching a simple CSS selector
// (tag, .class, #id, [attr], [attr=v], descendant combinator), or nil.
func (d *Document) Find(selector string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := querySelectorAll(d.root, selector)
	if len(nodes) == 0 {
		return nil
	}
	return d.handle(nodes[0])
}

// FindAll returns every element matching the selector, in document order.
func (d *Document) FindAll(selector string) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := querySelectorAll(d.root, selector)
	els := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, d.handle(n))
	}
	return els
}

// EachElement walks every element in document order. Return false to stop.
// The tree is snapshotted up front and the callback runs without the document
// lock held, so it may read attributes or mutate freely; elements attached by
// the callback itself are not visited.
func (d *Document) EachElement(fn func(*Element) bool) {
	d.mu.Lock()
	var els []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			els = append(els, d.handle(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	d.mu.Unlock()

	for _, el := range els {
		if !fn(el) {
			return
		}
	}
}

// SetFocus marks el as the currently focused element. Pass nil to blur.
func (d *Document) SetFocus(el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = el
}

// Focused returns the currently focused element, or nil.
func (d *Document) Focused() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// SetEnvironment attaches host preferences (reduced motion). Optional.
func (d *Document) SetEnvironment(env Environment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.env = env
}

// Environment returns the host environment, or nil when none was attached.
func (d *Document) Environment() Environment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.env
}

// SetMetrics attaches a layout metrics provider. Optional; without one the
// CLS guard and spinner width locks degrade to no-ops.
func (d *Document) SetMetrics(m Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// Metrics returns the layout metrics provider, or nil.
func (d *Document) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// OnRemove registers a hook invoked with the element ID of every element
// detached from the tree. Side tables use this for eviction.
func (d *Document) OnRemove(fn func(id uint64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRemove = append(d.onRemove, fn)
}

// DroppedMutations reports how many mutation records were discarded because
// a subscriber buffer was full.
func (d *Document) DroppedMutations() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Element returns the live element with the given arena ID, nil when the
// element was never handled or has left the tree. Mutation consumers use
// it to turn record targets back into elements.
func (d *Document) Element(id uint64) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID[id]
}

// handle returns the stable Element for a node, allocating an ID on first
// sight. Caller holds d.mu.
func (d *Document) handle(n *html.Node) *Element {
	if el, ok := d.handles[n]; ok {
		return el
	}
	d.nextID++
	d.ids[n] = d.nextID
	el := &Element{doc: d, node: n, id: d.nextID}
	d.handles[n] = el
	d.byID[el.id] = el
	return el
}

// evict drops the handle bookkeeping for a detached subtree and fires the
// removal hooks. Caller holds d.mu; hooks run outside the lock.
func (d *Document) evict(n *html.Node) []uint64 {
	var gone []uint64
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if id, ok := d.ids[n]; ok {
			gone = append(gone, id)
			delete(d.ids, n)
			if el, ok := d.handles[n]; ok {
				el.detached = true
				delete(d.handles, n)
				delete(d.byID, id)
				if d.focused == el {
					d.focused = nil
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return gone
}

func (d *Document) fireRemovals(ids []uint64, hooks []func(uint64)) {
	for _, id := range ids {
		for _, h := range hooks {
			h(id)
		}
	}
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, pred); n != nil {
			return n
		}
	}
	return nil
}

func newElementNode(tag string) *html.Node {
	a := atom.Lookup([]byte(tag))
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: tag}
	if a != 0 {
		n.Data = a.String()
	}
	return n
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
