package doc

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func (tx *Txn) duplicate(n *Node) (NodeKey, error) {
	r, ok := tx.editor.resolver(n.kind)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoResolver, n.kind)
	}
	return r.Factory(tx, n), nil
}

// SplitInline splits the text under p and every inline ancestor up to the
// enclosing paragraph, so that p falls on a boundary between two children of
// that paragraph. Ancestors are duplicated through their kind's resolver. It
// returns the paragraph and the key of the child that now starts at p, or 0
// when p is at the end of the paragraph.
func (tx *Txn) SplitInline(p Point) (block, at NodeKey, err error) {
	tp, ok := tx.st.TextPoint(p)
	if !ok {
		return 0, 0, fmt.Errorf("split at %+v: %w", p, ErrInvalidPoint)
	}
	_, right, err := tx.SplitText(tp.Key, tp.Offset)
	if err != nil {
		return 0, 0, err
	}
	parent := tx.st.nodes[tp.Key].parent
	idx := tx.st.nodes[parent].indexOf(tp.Key) + 1
	if right != 0 {
		idx = tx.st.nodes[parent].indexOf(right)
	}
	for tx.st.nodes[parent].parent != RootKey {
		el := tx.st.nodes[parent]
		up := tx.st.nodes[el.parent]
		switch {
		case idx == 0:
			idx = up.indexOf(el.key)
		case idx >= len(el.children):
			idx = up.indexOf(el.key) + 1
		default:
			dup, err := tx.duplicate(el)
			if err != nil {
				return 0, 0, err
			}
			if err := tx.InsertAfter(el.key, dup); err != nil {
				return 0, 0, err
			}
			if err := tx.moveChildren(el.key, idx, dup, 0); err != nil {
				return 0, 0, err
			}
			idx = tx.st.nodes[el.parent].indexOf(dup)
		}
		parent = el.parent
	}
	return parent, tx.st.nodes[parent].Child(idx), nil
}

// Wrap moves a run of adjacent siblings into a new element of kind.
func (tx *Txn) Wrap(keys []NodeKey, kind Kind, labels []string) (NodeKey, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("wrap: %w", ErrNotSiblings)
	}
	first, ok := tx.st.nodes[keys[0]]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNodeNotFound, keys[0])
	}
	parent := tx.st.nodes[first.parent]
	if parent == nil {
		return 0, fmt.Errorf("wrap detached node %d: %w", first.key, ErrNotSiblings)
	}
	start := parent.indexOf(first.key)
	for i, k := range keys {
		if parent.Child(start+i) != k {
			return 0, fmt.Errorf("wrap %d: %w", k, ErrNotSiblings)
		}
	}
	el := tx.CreateElement(kind, labels)
	if err := tx.InsertBefore(first.key, el); err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := tx.Append(el, k); err != nil {
			return 0, err
		}
	}
	return el, nil
}

// Unwrap hoists an element's children into its parent and removes it.
func (tx *Txn) Unwrap(key NodeKey) error {
	n, ok := tx.st.nodes[key]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if key == RootKey {
		return ErrRootImmutable
	}
	if !n.kind.IsElement() {
		return fmt.Errorf("unwrap %d: %w", key, ErrNotElement)
	}
	if n.parent == 0 {
		return tx.Remove(key)
	}
	at := tx.st.nodes[n.parent].indexOf(key)
	if err := tx.moveChildren(key, 0, n.parent, at); err != nil {
		return err
	}
	return tx.Remove(key)
}

// MergeElements joins right into left. Both must be adjacent siblings of the
// same kind; left takes the label set returned by the kind's Merge function.
func (tx *Txn) MergeElements(left, right NodeKey) error {
	l, ok := tx.st.nodes[left]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, left)
	}
	r, ok := tx.st.nodes[right]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, right)
	}
	if l.kind != r.kind || !l.kind.IsElement() {
		return fmt.Errorf("merge %s with %s: %w", l.kind, r.kind, ErrNotSiblings)
	}
	if next, ok := tx.st.NextSibling(left); !ok || next.key != right {
		return fmt.Errorf("merge %d with %d: %w", left, right, ErrNotSiblings)
	}
	res, ok := tx.editor.resolver(l.kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoResolver, l.kind)
	}
	if err := tx.SetLabels(left, res.Merge(tx, l, r)); err != nil {
		return err
	}
	return tx.absorb(left, right, len(tx.st.nodes[left].children))
}

// absorb moves all children of src into dst at index and removes src.
func (tx *Txn) absorb(dst, src NodeKey, index int) error {
	if err := tx.moveChildren(src, 0, dst, index); err != nil {
		return err
	}
	return tx.Remove(src)
}

// InsertText replaces the selection with text. Newlines start new paragraphs.
func (tx *Txn) InsertText(text string) error {
	sel, ok := tx.st.Selection()
	if !ok {
		return ErrNoSelection
	}
	if !sel.Collapsed() {
		if err := tx.DeleteSelection(); err != nil {
			return err
		}
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if err := tx.InsertParagraph(); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		if err := tx.insertRun(line); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Txn) insertRun(s string) error {
	caret := tx.st.selection.Anchor
	tp, ok := tx.st.TextPoint(caret)
	if ok && (caret.Key == RootKey || tx.st.Block(tp.Key) == tx.st.Block(caret.Key)) {
		n, err := tx.writable(tp.Key)
		if err != nil {
			return err
		}
		r := []rune(n.text)
		n.text = string(r[:tp.Offset]) + s + string(r[tp.Offset:])
		return tx.SetSelection(Caret(Point{Key: tp.Key, Offset: tp.Offset + utf8.RuneCountInString(s)}))
	}
	// The caret sits in a paragraph without text.
	block := caret.Key
	index := caret.Offset
	if block == RootKey {
		block = tx.CreateParagraph()
		if err := tx.InsertAt(RootKey, caret.Offset, block); err != nil {
			return err
		}
		index = 0
	}
	t := tx.CreateText(s)
	if err := tx.InsertAt(block, index, t); err != nil {
		return err
	}
	return tx.SetSelection(Caret(Point{Key: t, Offset: utf8.RuneCountInString(s)}))
}

// DeleteSelection removes the selected content and collapses the selection
// to its start. Paragraphs the range crosses are joined.
func (tx *Txn) DeleteSelection() error {
	sel, ok := tx.st.Selection()
	if !ok {
		return ErrNoSelection
	}
	if sel.Collapsed() {
		return nil
	}
	start, end := tx.st.Ordered(sel)
	s, ok1 := tx.st.TextPoint(start)
	e, ok2 := tx.st.TextPoint(end)
	if !ok1 || !ok2 {
		return tx.SetSelection(Caret(start))
	}
	if err := tx.SetSelection(Caret(s)); err != nil {
		return err
	}
	if s.Key == e.Key {
		n := tx.st.nodes[s.Key]
		return tx.SetText(s.Key, runeSlice(n.text, 0, s.Offset)+runeSlice(n.text, e.Offset, n.Size()))
	}

	spans := tx.st.Spans(s, e)
	sBlock, eBlock := tx.st.Block(s.Key), tx.st.Block(e.Key)
	if sBlock != eBlock {
		root := tx.st.Root()
		from, to := root.indexOf(sBlock), root.indexOf(eBlock)
		for _, k := range root.children[from+1 : to] {
			if err := tx.Remove(k); err != nil {
				return err
			}
		}
	}
	for _, span := range spans {
		n, ok := tx.st.nodes[span.Key]
		if !ok {
			continue
		}
		var err error
		switch span.Key {
		case s.Key:
			err = tx.SetText(span.Key, runeSlice(n.text, 0, span.From))
		case e.Key:
			err = tx.SetText(span.Key, runeSlice(n.text, span.To, n.Size()))
		default:
			err = tx.Remove(span.Key)
		}
		if err != nil {
			return err
		}
	}
	if sBlock != eBlock {
		seam := len(tx.st.nodes[sBlock].children)
		if err := tx.absorb(sBlock, eBlock, seam); err != nil {
			return err
		}
	}
	return tx.SetSelection(Caret(s))
}

// InsertParagraph splits the paragraph at the caret, carrying everything
// after it into a new paragraph.
func (tx *Txn) InsertParagraph() error {
	sel, ok := tx.st.Selection()
	if !ok {
		return ErrNoSelection
	}
	if !sel.Collapsed() {
		if err := tx.DeleteSelection(); err != nil {
			return err
		}
		sel, _ = tx.st.Selection()
	}
	caret := sel.Anchor
	next := tx.CreateParagraph()

	if n := tx.st.nodes[caret.Key]; n.kind == KindParagraph || n.kind == KindRoot {
		// Caret between children of an element with no text to split.
		block := caret.Key
		if block == RootKey {
			if err := tx.InsertAt(RootKey, caret.Offset, next); err != nil {
				return err
			}
			return tx.SetSelection(Caret(Point{Key: next}))
		}
		if err := tx.InsertAfter(block, next); err != nil {
			return err
		}
		if err := tx.moveChildren(block, caret.Offset, next, 0); err != nil {
			return err
		}
		return tx.caretAtStart(next)
	}

	block, at, err := tx.SplitInline(caret)
	if err != nil {
		return err
	}
	if err := tx.InsertAfter(block, next); err != nil {
		return err
	}
	if at != 0 {
		if err := tx.moveChildren(block, tx.st.nodes[block].indexOf(at), next, 0); err != nil {
			return err
		}
	}
	return tx.caretAtStart(next)
}

func (tx *Txn) caretAtStart(block NodeKey) error {
	if texts := tx.st.Texts(block); len(texts) > 0 {
		return tx.SetSelection(Caret(Point{Key: texts[0]}))
	}
	return tx.SetSelection(Caret(Point{Key: block}))
}
