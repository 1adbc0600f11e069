package resolve

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Overlay markers recognized on rendered elements.
const (
	rootAttr    = "data-text-root"
	overlayAttr = "data-overlay"
)

var overlayClasses = []string{"ner-handle", "selection-overlay", "entity-popup"}

type textNode struct {
	base    int
	length  int
	overlay bool
}

// RenderResolver resolves caret positions in the annotated HTML view. Text
// nodes are numbered in document order under the text root; nodes inside
// overlays keep their ordinal but contribute no length.
type RenderResolver struct {
	nodes []textNode
	total int
}

// NewRender parses rendered HTML. Counting starts at the element carrying
// data-text-root, or at the body when there is none.
func NewRender(r io.Reader) (*RenderResolver, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse rendered view: %w", err)
	}
	root := findRoot(doc)
	if root == nil {
		root = doc
	}
	res := &RenderResolver{}
	res.walk(root, false)
	return res, nil
}

// NewRenderString is NewRender over a string.
func NewRenderString(s string) (*RenderResolver, error) {
	return NewRender(strings.NewReader(s))
}

func (r *RenderResolver) walk(n *html.Node, overlay bool) {
	switch n.Type {
	case html.TextNode:
		length := 0
		if !overlay {
			length = utf8.RuneCountInString(n.Data)
		}
		r.nodes = append(r.nodes, textNode{base: r.total, length: utf8.RuneCountInString(n.Data), overlay: overlay})
		r.total += length
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
		overlay = overlay || isOverlay(n)
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c, overlay)
	}
}

func (r *RenderResolver) Offset(pos Position) (int, error) {
	if pos.Node < 0 || pos.Node >= len(r.nodes) {
		if pos.Node == len(r.nodes) && pos.Offset == 0 {
			return r.total, nil
		}
		return 0, fmt.Errorf("%w: node %d of %d", ErrPositionOutOfRange, pos.Node, len(r.nodes))
	}
	n := r.nodes[pos.Node]
	if pos.Offset < 0 || pos.Offset > n.length {
		return 0, fmt.Errorf("%w: offset %d in node %d of length %d", ErrPositionOutOfRange, pos.Offset, pos.Node, n.length)
	}
	if n.overlay {
		return n.base, nil
	}
	return n.base + pos.Offset, nil
}

func (r *RenderResolver) Len() int { return r.total }

// Nodes returns the number of text nodes, overlays included.
func (r *RenderResolver) Nodes() int { return len(r.nodes) }

// NodeLen returns the code point length of text node i.
func (r *RenderResolver) NodeLen(i int) int {
	if i < 0 || i >= len(r.nodes) {
		return 0
	}
	return r.nodes[i].length
}

// Overlay reports whether the text node at pos belongs to an overlay.
func (r *RenderResolver) Overlay(pos Position) bool {
	return pos.Node >= 0 && pos.Node < len(r.nodes) && r.nodes[pos.Node].overlay
}

func findRoot(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && hasAttr(n, rootAttr) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findRoot(c); found != nil {
			return found
		}
	}
	return nil
}

func isOverlay(n *html.Node) bool {
	if hasAttr(n, overlayAttr) {
		return true
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, class := range strings.Fields(a.Val) {
			for _, o := range overlayClasses {
				if class == o {
					return true
				}
			}
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
