package doc

import (
	"slices"
	"unicode/utf8"
)

// NodeKey is the stable identity of a node. Keys are never reused within an editor.
type NodeKey uint64

// RootKey is the key of every document's root node.
const RootKey NodeKey = 1

// Kind tags a node with its type. Code that needs to tell node types apart
// switches on the kind.
type Kind uint8

const (
	KindRoot Kind = iota + 1
	KindParagraph
	KindText
	KindMark
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindParagraph:
		return "paragraph"
	case KindText:
		return "text"
	case KindMark:
		return "mark"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "root":
		return KindRoot, true
	case "paragraph":
		return KindParagraph, true
	case "text":
		return KindText, true
	case "mark":
		return KindMark, true
	default:
		return 0, false
	}
}

// IsElement reports whether nodes of this kind hold children.
func (k Kind) IsElement() bool { return k != KindText }

// IsInline reports whether nodes of this kind live inside a paragraph.
func (k Kind) IsInline() bool { return k == KindText || k == KindMark }

// CanBeEmpty reports whether an element of this kind may exist with no children.
func (k Kind) CanBeEmpty() bool { return k != KindMark }

// Node is an immutable snapshot of one document node.
type Node struct {
	key      NodeKey
	kind     Kind
	parent   NodeKey
	children []NodeKey
	text     string
	labels   []string
}

func (n *Node) Key() NodeKey        { return n.key }
func (n *Node) Kind() Kind          { return n.kind }
func (n *Node) Parent() NodeKey     { return n.parent }
func (n *Node) Text() string        { return n.text }
func (n *Node) ChildCount() int     { return len(n.children) }
func (n *Node) IsText() bool        { return n.kind == KindText }
func (n *Node) IsElement() bool     { return n.kind.IsElement() }
func (n *Node) IsAttached() bool    { return n.parent != 0 || n.key == RootKey }
func (n *Node) Children() []NodeKey { return slices.Clone(n.children) }
func (n *Node) Labels() []string    { return slices.Clone(n.labels) }

// Child returns the key of the i-th child, or 0 when out of range.
func (n *Node) Child(i int) NodeKey {
	if i < 0 || i >= len(n.children) {
		return 0
	}
	return n.children[i]
}

// Size is the length of a text node in runes. Elements report 0.
func (n *Node) Size() int {
	if n.kind != KindText {
		return 0
	}
	return utf8.RuneCountInString(n.text)
}

// HasLabel reports whether label is in the node's label set.
func (n *Node) HasLabel(label string) bool {
	return slices.Contains(n.labels, label)
}

func (n *Node) clone() *Node {
	c := *n
	c.children = slices.Clone(n.children)
	c.labels = slices.Clone(n.labels)
	return &c
}

func (n *Node) indexOf(child NodeKey) int {
	return slices.Index(n.children, child)
}

// Mutation classifies how a committed transaction touched a node.
type Mutation uint8

const (
	Created Mutation = iota + 1
	Updated
	Destroyed
)

func (m Mutation) String() string {
	switch m {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Point addresses a position in the document. For a text node Offset counts
// runes; for an element it is a child index.
type Point struct {
	Key    NodeKey `json:"key"`
	Offset int     `json:"offset"`
}

// Selection is a range between an anchor and a focus point. The focus may
// precede the anchor (a backward selection).
type Selection struct {
	Anchor Point `json:"anchor"`
	Focus  Point `json:"focus"`
}

// Collapsed reports whether the selection is a caret.
func (s Selection) Collapsed() bool { return s.Anchor == s.Focus }

// Caret returns a collapsed selection at p.
func Caret(p Point) Selection { return Selection{Anchor: p, Focus: p} }

// runeSlice returns s[from:to] counted in runes.
func runeSlice(s string, from, to int) string {
	r := []rune(s)
	if from < 0 {
		from = 0
	}
	if to > len(r) {
		to = len(r)
	}
	if from >= to {
		return ""
	}
	return string(r[from:to])
}
