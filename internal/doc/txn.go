package doc

import (
	"fmt"
	"slices"
)

// Txn is a pending edit of the document. Nodes touched through a Txn are
// cloned into the pending arena on first write; the committed State the
// transaction started from is never modified.
type Txn struct {
	editor *Editor
	base   *State
	st     *State
	owned  map[NodeKey]bool
	dirty  map[NodeKey]struct{}
	tags   map[string]struct{}
	closed bool
}

func newTxn(e *Editor, base *State, tags []string) *Txn {
	tx := &Txn{
		editor: e,
		base:   base,
		st:     base.fork(),
		owned:  map[NodeKey]bool{},
		dirty:  map[NodeKey]struct{}{},
		tags:   map[string]struct{}{},
	}
	for _, t := range tags {
		tx.tags[t] = struct{}{}
	}
	return tx
}

// State is a read view of the pending document.
func (tx *Txn) State() *State { return tx.st }

func (tx *Txn) Node(key NodeKey) (*Node, bool) { return tx.st.Node(key) }

func (tx *Txn) Selection() (Selection, bool) { return tx.st.Selection() }

func (tx *Txn) AddTag(tag string) { tx.tags[tag] = struct{}{} }

func (tx *Txn) HasTag(tag string) bool {
	_, ok := tx.tags[tag]
	return ok
}

func (tx *Txn) writable(key NodeKey) (*Node, error) {
	if tx.closed {
		return nil, ErrTxnClosed
	}
	n, ok := tx.st.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if !tx.owned[key] {
		n = n.clone()
		tx.st.nodes[key] = n
		tx.owned[key] = true
	}
	tx.dirty[key] = struct{}{}
	return n, nil
}

func (tx *Txn) create(kind Kind) *Node {
	n := &Node{key: tx.editor.allocKey(), kind: kind}
	tx.st.nodes[n.key] = n
	tx.owned[n.key] = true
	tx.dirty[n.key] = struct{}{}
	return n
}

// CreateText creates a detached text node. Nodes still detached when the
// transaction commits are discarded.
func (tx *Txn) CreateText(text string) NodeKey {
	n := tx.create(KindText)
	n.text = text
	return n.key
}

func (tx *Txn) CreateParagraph() NodeKey {
	return tx.create(KindParagraph).key
}

// CreateElement creates a detached element of kind carrying labels.
func (tx *Txn) CreateElement(kind Kind, labels []string) NodeKey {
	n := tx.create(kind)
	n.labels = dedupe(labels)
	return n.key
}

// Append moves child to the end of parent's children.
func (tx *Txn) Append(parent, child NodeKey) error {
	return tx.insert(child, func() (NodeKey, int, error) {
		p, ok := tx.st.nodes[parent]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %d", ErrNodeNotFound, parent)
		}
		return parent, len(p.children), nil
	})
}

// InsertBefore moves child directly in front of ref.
func (tx *Txn) InsertBefore(ref, child NodeKey) error {
	return tx.insert(child, func() (NodeKey, int, error) { return tx.siblingSlot(ref, 0) })
}

// InsertAfter moves child directly behind ref.
func (tx *Txn) InsertAfter(ref, child NodeKey) error {
	return tx.insert(child, func() (NodeKey, int, error) { return tx.siblingSlot(ref, 1) })
}

// InsertAt moves child to position index of parent's children.
func (tx *Txn) InsertAt(parent NodeKey, index int, child NodeKey) error {
	return tx.insert(child, func() (NodeKey, int, error) {
		p, ok := tx.st.nodes[parent]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %d", ErrNodeNotFound, parent)
		}
		return parent, min(max(index, 0), len(p.children)), nil
	})
}

func (tx *Txn) siblingSlot(ref NodeKey, delta int) (NodeKey, int, error) {
	r, ok := tx.st.nodes[ref]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %d", ErrNodeNotFound, ref)
	}
	if r.parent == 0 {
		return 0, 0, fmt.Errorf("insert next to detached node %d: %w", ref, ErrNodeNotFound)
	}
	return r.parent, tx.st.nodes[r.parent].indexOf(ref) + delta, nil
}

// insert detaches child and then asks slot where it goes, so that indexes
// are computed after the child left its old position.
func (tx *Txn) insert(child NodeKey, slot func() (NodeKey, int, error)) error {
	if child == RootKey {
		return ErrRootImmutable
	}
	if _, ok := tx.st.nodes[child]; !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, child)
	}
	if err := tx.detach(child); err != nil {
		return err
	}
	parent, index, err := slot()
	if err != nil {
		return err
	}
	pn := tx.st.nodes[parent]
	if !pn.kind.IsElement() {
		return fmt.Errorf("insert into %d: %w", parent, ErrNotElement)
	}
	if tx.st.Contains(child, parent) {
		return ErrCycle
	}
	p, err := tx.writable(parent)
	if err != nil {
		return err
	}
	p.children = slices.Insert(p.children, index, child)
	c, err := tx.writable(child)
	if err != nil {
		return err
	}
	c.parent = parent
	return nil
}

func (tx *Txn) detach(key NodeKey) error {
	n := tx.st.nodes[key]
	if n.parent == 0 {
		return nil
	}
	p, err := tx.writable(n.parent)
	if err != nil {
		return err
	}
	if i := p.indexOf(key); i >= 0 {
		p.children = slices.Delete(p.children, i, i+1)
	}
	c, err := tx.writable(key)
	if err != nil {
		return err
	}
	c.parent = 0
	return nil
}

// Remove detaches key and destroys its whole subtree. Selection points
// inside the subtree move to the removed node's former slot in its parent.
func (tx *Txn) Remove(key NodeKey) error {
	if key == RootKey {
		return ErrRootImmutable
	}
	n, ok := tx.st.nodes[key]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if n.parent != 0 {
		slot := Point{Key: n.parent, Offset: tx.st.nodes[n.parent].indexOf(key)}
		tx.relocatePoints(func(p Point) (Point, bool) {
			if tx.st.Contains(key, p.Key) {
				return slot, true
			}
			return p, false
		})
	}
	if err := tx.detach(key); err != nil {
		return err
	}
	tx.destroy(key)
	return nil
}

func (tx *Txn) destroy(key NodeKey) {
	n, ok := tx.st.nodes[key]
	if !ok {
		return
	}
	for _, c := range n.children {
		tx.destroy(c)
	}
	delete(tx.st.nodes, key)
	delete(tx.owned, key)
	tx.dirty[key] = struct{}{}
}

// SetText replaces the content of a text node. Selection offsets past the
// new end are clamped.
func (tx *Txn) SetText(key NodeKey, text string) error {
	if n, ok := tx.st.nodes[key]; ok && n.kind != KindText {
		return fmt.Errorf("set text on %d: %w", key, ErrNotText)
	}
	n, err := tx.writable(key)
	if err != nil {
		return err
	}
	n.text = text
	size := n.Size()
	tx.relocatePoints(func(p Point) (Point, bool) {
		if p.Key == key && p.Offset > size {
			return Point{Key: key, Offset: size}, true
		}
		return p, false
	})
	return nil
}

// SetLabels replaces an element's label set. Duplicates are dropped.
func (tx *Txn) SetLabels(key NodeKey, labels []string) error {
	if n, ok := tx.st.nodes[key]; ok && !n.kind.IsElement() {
		return fmt.Errorf("set labels on %d: %w", key, ErrNotElement)
	}
	n, err := tx.writable(key)
	if err != nil {
		return err
	}
	n.labels = dedupe(labels)
	return nil
}

// SetSelection replaces the pending selection.
func (tx *Txn) SetSelection(sel Selection) error {
	if !tx.st.ValidPoint(sel.Anchor) || !tx.st.ValidPoint(sel.Focus) {
		return fmt.Errorf("set selection %+v: %w", sel, ErrInvalidPoint)
	}
	tx.st.selection = &sel
	return nil
}

func (tx *Txn) ClearSelection() { tx.st.selection = nil }

func (tx *Txn) relocatePoints(fn func(Point) (Point, bool)) {
	if tx.st.selection == nil {
		return
	}
	sel := *tx.st.selection
	changed := false
	if p, ok := fn(sel.Anchor); ok {
		sel.Anchor, changed = p, true
	}
	if p, ok := fn(sel.Focus); ok {
		sel.Focus, changed = p, true
	}
	if changed {
		tx.st.selection = &sel
	}
}

// SplitText splits a text node at offset. The left part keeps the original
// key. When offset is at either edge nothing is split and the missing side
// is returned as 0.
func (tx *Txn) SplitText(key NodeKey, offset int) (left, right NodeKey, err error) {
	n, ok := tx.st.nodes[key]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if n.kind != KindText {
		return 0, 0, fmt.Errorf("split %d: %w", key, ErrNotText)
	}
	size := n.Size()
	switch {
	case offset <= 0:
		return 0, key, nil
	case offset >= size:
		return key, 0, nil
	}
	tail := runeSlice(n.text, offset, size)
	w, err := tx.writable(key)
	if err != nil {
		return 0, 0, err
	}
	w.text = runeSlice(w.text, 0, offset)
	right = tx.CreateText(tail)
	if w.parent != 0 {
		if err := tx.InsertAfter(key, right); err != nil {
			return 0, 0, err
		}
	}
	tx.relocatePoints(func(p Point) (Point, bool) {
		if p.Key == key && p.Offset > offset {
			return Point{Key: right, Offset: p.Offset - offset}, true
		}
		return p, false
	})
	return key, right, nil
}

// moveChildren moves from.children[index:] to position at of to.
func (tx *Txn) moveChildren(from NodeKey, index int, to NodeKey, at int) error {
	f, err := tx.writable(from)
	if err != nil {
		return err
	}
	if index >= len(f.children) {
		return nil
	}
	moved := slices.Clone(f.children[index:])
	f.children = f.children[:index]
	t, err := tx.writable(to)
	if err != nil {
		return err
	}
	t.children = slices.Insert(t.children, min(at, len(t.children)), moved...)
	for _, k := range moved {
		c, err := tx.writable(k)
		if err != nil {
			return err
		}
		c.parent = to
	}
	return nil
}

// finish normalizes the pending tree and discards detached nodes.
func (tx *Txn) finish() error {
	if err := tx.normalize(); err != nil {
		return err
	}
	for key := range tx.dirty {
		n, ok := tx.st.nodes[key]
		if ok && key != RootKey && n.parent == 0 {
			tx.destroy(key)
		}
	}
	if sel := tx.st.selection; sel != nil && (!tx.st.ValidPoint(sel.Anchor) || !tx.st.ValidPoint(sel.Focus)) {
		tx.st.selection = nil
	}
	tx.closed = true
	return nil
}

// mutations classifies every touched key against the starting state.
func (tx *Txn) mutations() map[Kind]map[NodeKey]Mutation {
	return classify(tx.base, tx.st, tx.dirty)
}

func classify(before, after *State, dirty map[NodeKey]struct{}) map[Kind]map[NodeKey]Mutation {
	out := map[Kind]map[NodeKey]Mutation{}
	add := func(kind Kind, key NodeKey, m Mutation) {
		if out[kind] == nil {
			out[kind] = map[NodeKey]Mutation{}
		}
		out[kind][key] = m
	}
	for key := range dirty {
		prev, had := before.nodes[key]
		next, has := after.nodes[key]
		switch {
		case had && has:
			if prev != next {
				add(next.kind, key, Updated)
			}
		case has:
			add(next.kind, key, Created)
		case had:
			add(prev.kind, key, Destroyed)
		}
	}
	return out
}

func dedupe(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}
