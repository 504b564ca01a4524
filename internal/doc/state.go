package doc

import (
	"slices"
	"strings"
)

// State is a committed, read-only version of a document.
type State struct {
	nodes     map[NodeKey]*Node
	selection *Selection
}

func newState() *State {
	return &State{nodes: map[NodeKey]*Node{
		RootKey: {key: RootKey, kind: KindRoot},
	}}
}

func (st *State) fork() *State {
	next := &State{nodes: make(map[NodeKey]*Node, len(st.nodes))}
	for k, n := range st.nodes {
		next.nodes[k] = n
	}
	if st.selection != nil {
		sel := *st.selection
		next.selection = &sel
	}
	return next
}

// Node returns the snapshot stored under key.
func (st *State) Node(key NodeKey) (*Node, bool) {
	n, ok := st.nodes[key]
	return n, ok
}

func (st *State) Root() *Node { return st.nodes[RootKey] }

// Len is the number of live nodes, root included.
func (st *State) Len() int { return len(st.nodes) }

// Selection returns the current selection, if any.
func (st *State) Selection() (Selection, bool) {
	if st.selection == nil {
		return Selection{}, false
	}
	return *st.selection, true
}

// Walk visits nodes depth-first in document order. Returning false from fn
// stops the walk.
func (st *State) Walk(fn func(n *Node) bool) {
	st.walkFrom(RootKey, fn)
}

func (st *State) walkFrom(key NodeKey, fn func(n *Node) bool) bool {
	n, ok := st.nodes[key]
	if !ok {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !st.walkFrom(c, fn) {
			return false
		}
	}
	return true
}

// KeysOfKind lists every node of kind in document order.
func (st *State) KeysOfKind(kind Kind) []NodeKey {
	var keys []NodeKey
	st.Walk(func(n *Node) bool {
		if n.kind == kind {
			keys = append(keys, n.key)
		}
		return true
	})
	return keys
}

// TextContent is the plain text of the document, paragraphs separated by a blank line.
func (st *State) TextContent() string {
	root := st.Root()
	parts := make([]string, 0, len(root.children))
	for _, c := range root.children {
		parts = append(parts, st.NodeText(c))
	}
	return strings.Join(parts, "\n\n")
}

// NodeText is the concatenated text of the subtree under key.
func (st *State) NodeText(key NodeKey) string {
	var b strings.Builder
	st.walkFrom(key, func(n *Node) bool {
		if n.kind == KindText {
			b.WriteString(n.text)
		}
		return true
	})
	return b.String()
}

// Contains reports whether key is ancestor or a descendant of ancestor.
func (st *State) Contains(ancestor, key NodeKey) bool {
	for key != 0 {
		if key == ancestor {
			return true
		}
		n, ok := st.nodes[key]
		if !ok {
			return false
		}
		key = n.parent
	}
	return false
}

// Block returns the paragraph (a direct child of the root) containing key.
func (st *State) Block(key NodeKey) NodeKey {
	for key != 0 {
		n, ok := st.nodes[key]
		if !ok {
			return 0
		}
		if n.parent == RootKey {
			return key
		}
		key = n.parent
	}
	return 0
}

// IndexInParent returns the position of key among its siblings, or -1.
func (st *State) IndexInParent(key NodeKey) int {
	n, ok := st.nodes[key]
	if !ok || n.parent == 0 {
		return -1
	}
	return st.nodes[n.parent].indexOf(key)
}

func (st *State) sibling(key NodeKey, delta int) (*Node, bool) {
	n, ok := st.nodes[key]
	if !ok || n.parent == 0 {
		return nil, false
	}
	parent := st.nodes[n.parent]
	i := parent.indexOf(key) + delta
	if i < 0 || i >= len(parent.children) {
		return nil, false
	}
	return st.nodes[parent.children[i]], true
}

func (st *State) NextSibling(key NodeKey) (*Node, bool) { return st.sibling(key, 1) }
func (st *State) PrevSibling(key NodeKey) (*Node, bool) { return st.sibling(key, -1) }

// Texts lists the text nodes under key in document order.
func (st *State) Texts(key NodeKey) []NodeKey {
	var keys []NodeKey
	st.walkFrom(key, func(n *Node) bool {
		if n.kind == KindText {
			keys = append(keys, n.key)
		}
		return true
	})
	return keys
}

// ValidPoint reports whether p addresses an existing position.
func (st *State) ValidPoint(p Point) bool {
	n, ok := st.nodes[p.Key]
	if !ok || p.Offset < 0 {
		return false
	}
	if n.kind == KindText {
		return p.Offset <= n.Size()
	}
	return p.Offset <= len(n.children)
}

func (st *State) path(key NodeKey) []int {
	var rev []int
	for key != RootKey {
		n, ok := st.nodes[key]
		if !ok || n.parent == 0 {
			return nil
		}
		rev = append(rev, st.nodes[n.parent].indexOf(key))
		key = n.parent
	}
	slices.Reverse(rev)
	return rev
}

// ComparePoints orders two points in the document: -1, 0 or 1.
func (st *State) ComparePoints(a, b Point) int {
	pa, oa := st.pointPos(a)
	pb, ob := st.pointPos(b)
	if c := slices.Compare(pa, pb); c != 0 {
		return c
	}
	switch {
	case oa < ob:
		return -1
	case oa > ob:
		return 1
	default:
		return 0
	}
}

func (st *State) pointPos(p Point) ([]int, int) {
	path := st.path(p.Key)
	if n, ok := st.nodes[p.Key]; ok && n.kind != KindText {
		return append(path, p.Offset), -1
	}
	return path, p.Offset
}

// Ordered returns the selection's points with the earlier one first.
func (st *State) Ordered(sel Selection) (start, end Point) {
	if st.ComparePoints(sel.Anchor, sel.Focus) <= 0 {
		return sel.Anchor, sel.Focus
	}
	return sel.Focus, sel.Anchor
}

// IsBackward reports whether the focus precedes the anchor.
func (st *State) IsBackward(sel Selection) bool {
	return st.ComparePoints(sel.Focus, sel.Anchor) < 0
}

// TextPoint resolves p to an equivalent point inside a text node. Element
// points resolve to the start of the next text or the end of the previous one.
func (st *State) TextPoint(p Point) (Point, bool) {
	n, ok := st.nodes[p.Key]
	if !ok {
		return Point{}, false
	}
	if n.kind == KindText {
		return p, p.Offset >= 0 && p.Offset <= n.Size()
	}
	for i := p.Offset; i < len(n.children); i++ {
		if texts := st.Texts(n.children[i]); len(texts) > 0 {
			return Point{Key: texts[0]}, true
		}
	}
	for i := min(p.Offset, len(n.children)) - 1; i >= 0; i-- {
		if texts := st.Texts(n.children[i]); len(texts) > 0 {
			last := st.nodes[texts[len(texts)-1]]
			return Point{Key: last.key, Offset: last.Size()}, true
		}
	}
	if n.key == RootKey {
		return Point{}, false
	}
	parent := st.nodes[n.parent]
	if parent == nil {
		return Point{}, false
	}
	return st.TextPoint(Point{Key: parent.key, Offset: parent.indexOf(n.key) + 1})
}

// TextSpan is the part of a text node covered by a range.
type TextSpan struct {
	Key      NodeKey
	From, To int
}

// Spans lists the text pieces between two text points in document order.
// Text nodes touched only at an edge are included with an empty span.
func (st *State) Spans(start, end Point) []TextSpan {
	var spans []TextSpan
	inside := false
	st.Walk(func(n *Node) bool {
		if n.kind != KindText {
			return true
		}
		span := TextSpan{Key: n.key, From: 0, To: n.Size()}
		if n.key == start.Key {
			inside = true
			span.From = start.Offset
		}
		if !inside {
			return true
		}
		if n.key == end.Key {
			span.To = end.Offset
			spans = append(spans, span)
			return false
		}
		spans = append(spans, span)
		return true
	})
	return spans
}

// SelectedText is the text covered by sel, paragraphs separated by a newline.
func (st *State) SelectedText(sel Selection) string {
	start, end := st.Ordered(sel)
	s, ok1 := st.TextPoint(start)
	e, ok2 := st.TextPoint(end)
	if !ok1 || !ok2 {
		return ""
	}
	var b strings.Builder
	var block NodeKey
	for i, span := range st.Spans(s, e) {
		blk := st.Block(span.Key)
		if i > 0 && blk != block {
			b.WriteByte('\n')
		}
		block = blk
		b.WriteString(runeSlice(st.nodes[span.Key].text, span.From, span.To))
	}
	return b.String()
}
