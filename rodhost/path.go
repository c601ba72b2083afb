package rodhost

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/loadx/dom"
)

// cssPath builds a selector locating el in the live page. It anchors on
// the nearest ancestor with an id and falls back to nth-child positions,
// so it only resolves correctly when the parsed tree and the live DOM
// describe the same markup.
func cssPath(el *dom.Element) string {
	var segs []string
	for cur := el; cur != nil; cur = cur.Parent() {
		if id := cur.Attr("id"); id != "" {
			segs = append(segs, "#"+id)
			break
		}
		parent := cur.Parent()
		if parent == nil {
			// Root element, html in practice.
			segs = append(segs, cur.Tag())
			break
		}
		segs = append(segs, fmt.Sprintf("%s:nth-child(%d)", cur.Tag(), childIndex(parent, cur)))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, " > ")
}

// childIndex returns el's 1-based position among parent's element
// children, matching CSS :nth-child counting.
func childIndex(parent, el *dom.Element) int {
	n := 1
	for _, sib := range parent.Children() {
		if sib.ID() == el.ID() {
			break
		}
		n++
	}
	return n
}
