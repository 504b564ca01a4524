// Package doctest builds and prints small documents for tests.
package doctest

import (
	"fmt"
	"strings"

	"marginalia/internal/doc"
)

func Text(s string) doc.SerializedNode { return doc.SerializedNode{Type: "text", Text: s} }

func Para(children ...doc.SerializedNode) doc.SerializedNode {
	return doc.SerializedNode{Type: "paragraph", Children: children}
}

// Mark builds a mark node; ids is a comma separated list.
func Mark(ids string, children ...doc.SerializedNode) doc.SerializedNode {
	return doc.SerializedNode{Type: "mark", IDs: strings.Split(ids, ","), Children: children}
}

func Root(paragraphs ...doc.SerializedNode) doc.SerializedNode {
	return doc.SerializedNode{Type: "root", Children: paragraphs}
}

// Load replaces the editor's content without recording history.
func Load(e *doc.Editor, paragraphs ...doc.SerializedNode) error {
	return e.Update(func(tx *doc.Txn) error { return tx.Import(Root(paragraphs...)) }, doc.TagHistoryMerge)
}

// Render prints paragraphs separated by "|", marks as <ids:children> and text quoted.
func Render(st *doc.State) string {
	var parts []string
	for _, p := range st.Root().Children() {
		parts = append(parts, render(st, p))
	}
	return strings.Join(parts, "|")
}

func render(st *doc.State, key doc.NodeKey) string {
	n, _ := st.Node(key)
	if n.Kind() == doc.KindText {
		return fmt.Sprintf("%q", n.Text())
	}
	var b strings.Builder
	for _, c := range n.Children() {
		b.WriteString(render(st, c))
	}
	if n.Kind() == doc.KindMark {
		return "<" + strings.Join(n.Labels(), ",") + ":" + b.String() + ">"
	}
	return b.String()
}

// FindText returns the first text node whose content is s.
func FindText(st *doc.State, s string) (doc.NodeKey, bool) {
	for _, k := range st.KeysOfKind(doc.KindText) {
		if n, _ := st.Node(k); n.Text() == s {
			return k, true
		}
	}
	return 0, false
}

// Range is a selection from offset from in the text node reading a to
// offset to in the text node reading b.
func Range(st *doc.State, a string, from int, b string, to int) (doc.Selection, error) {
	ak, ok := FindText(st, a)
	if !ok {
		return doc.Selection{}, fmt.Errorf("no text %q in %s", a, Render(st))
	}
	bk, ok := FindText(st, b)
	if !ok {
		return doc.Selection{}, fmt.Errorf("no text %q in %s", b, Render(st))
	}
	return doc.Selection{Anchor: doc.Point{Key: ak, Offset: from}, Focus: doc.Point{Key: bk, Offset: to}}, nil
}
