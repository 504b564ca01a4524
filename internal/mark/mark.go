// Package mark implements the annotation mark: an inline element whose only
// content is an ordered set of annotation IDs wrapping a span of text.
package mark

import (
	"errors"
	"fmt"
	"slices"

	"marginalia/internal/doc"
)

var (
	// ErrEmptySelection indicates that there is no selected text to wrap.
	ErrEmptySelection = errors.New("selection is empty")

	// ErrNotMark indicates that a key does not resolve to a mark node.
	ErrNotMark = errors.New("node is not a mark")
)

// Resolver keeps annotation identity across structural edits: a split mark
// yields a sibling with the same IDs, and merged marks keep the union.
func Resolver() doc.Resolver {
	return doc.Resolver{
		Factory: func(tx *doc.Txn, original *doc.Node) doc.NodeKey {
			return tx.CreateElement(doc.KindMark, original.Labels())
		},
		Merge: func(_ *doc.Txn, survivor, absorbed *doc.Node) []string {
			return Union(survivor.Labels(), absorbed.Labels())
		},
	}
}

// Register installs the mark resolver on e.
func Register(e *doc.Editor) func() {
	return e.RegisterDuplicationResolver(doc.KindMark, Resolver())
}

// Union returns a followed by the members of b not already in a.
func Union(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// IDs returns the ID set of a mark node, or nil for any other node.
func IDs(n *doc.Node) []string {
	if n == nil || n.Kind() != doc.KindMark {
		return nil
	}
	return n.Labels()
}

func lookup(tx *doc.Txn, key doc.NodeKey) (*doc.Node, error) {
	n, ok := tx.Node(key)
	if !ok || n.Kind() != doc.KindMark {
		return nil, fmt.Errorf("%w: %d", ErrNotMark, key)
	}
	return n, nil
}

// AddID appends id to the mark's set unless it is already there.
func AddID(tx *doc.Txn, key doc.NodeKey, id string) error {
	n, err := lookup(tx, key)
	if err != nil {
		return err
	}
	if n.HasLabel(id) {
		return nil
	}
	return tx.SetLabels(key, append(n.Labels(), id))
}

// DeleteID removes id from the mark's set if present.
func DeleteID(tx *doc.Txn, key doc.NodeKey, id string) error {
	n, err := lookup(tx, key)
	if err != nil {
		return err
	}
	if !n.HasLabel(id) {
		return nil
	}
	return tx.SetLabels(key, slices.DeleteFunc(n.Labels(), func(s string) bool { return s == id }))
}

// Unwrap hoists the mark's children into its parent and removes it.
func Unwrap(tx *doc.Txn, key doc.NodeKey) error {
	if _, err := lookup(tx, key); err != nil {
		return err
	}
	return tx.Unwrap(key)
}

// RemoveID deletes id from every listed mark and unwraps the marks left
// without IDs. Keys that no longer resolve to marks are skipped.
func RemoveID(tx *doc.Txn, keys []doc.NodeKey, id string) error {
	for _, key := range keys {
		if _, err := lookup(tx, key); err != nil {
			continue
		}
		if err := DeleteID(tx, key, id); err != nil {
			return err
		}
		if n, _ := tx.Node(key); len(n.Labels()) == 0 {
			if err := tx.Unwrap(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// WrapSelection annotates the selected text with id. Marks crossing the
// selection edges are split, marks inside it gain id, and runs of plain text
// are wrapped in new marks. Overlapping annotations therefore share one mark.
func WrapSelection(tx *doc.Txn, id string) error {
	sel, ok := tx.Selection()
	if !ok || sel.Collapsed() {
		return ErrEmptySelection
	}
	st := tx.State()
	start, end := st.Ordered(sel)
	s, ok1 := st.TextPoint(start)
	e, ok2 := st.TextPoint(end)
	if !ok1 || !ok2 || selectedRunes(st, s, e) == 0 {
		return ErrEmptySelection
	}

	endBlock, endAt, err := tx.SplitInline(e)
	if err != nil {
		return err
	}
	startBlock, startAt, err := tx.SplitInline(s)
	if err != nil {
		return err
	}

	blocks := tx.State().Root().Children()
	first, last := slices.Index(blocks, startBlock), slices.Index(blocks, endBlock)
	if first < 0 || last < first {
		return fmt.Errorf("wrap selection: %w", doc.ErrInvalidPoint)
	}
	for _, block := range blocks[first : last+1] {
		if err := wrapBlock(tx, block, id, startBlock, startAt, endBlock, endAt); err != nil {
			return err
		}
	}
	return nil
}

func wrapBlock(tx *doc.Txn, block doc.NodeKey, id string, startBlock, startAt, endBlock, endAt doc.NodeKey) error {
	b, _ := tx.Node(block)
	children := b.Children()
	from, to := 0, len(children)
	if block == startBlock && startAt != 0 {
		from = slices.Index(children, startAt)
	} else if block == startBlock {
		from = len(children)
	}
	if block == endBlock && endAt != 0 {
		to = slices.Index(children, endAt)
	}

	var run []doc.NodeKey
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		_, err := tx.Wrap(run, doc.KindMark, []string{id})
		run = nil
		return err
	}
	for _, c := range children[from:to] {
		n, _ := tx.Node(c)
		switch n.Kind() {
		case doc.KindText:
			run = append(run, c)
		case doc.KindMark:
			if err := flush(); err != nil {
				return err
			}
			if err := AddID(tx, c, id); err != nil {
				return err
			}
		default:
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func selectedRunes(st *doc.State, s, e doc.Point) int {
	total := 0
	for _, span := range st.Spans(s, e) {
		total += span.To - span.From
	}
	return total
}

// IDsAt returns the IDs annotating point p: those of the nearest enclosing
// mark or, when p sits at the very end of a text node, those of a mark that
// directly follows it.
func IDsAt(st *doc.State, p doc.Point) ([]string, bool) {
	cur, ok := st.Node(p.Key)
	for ok {
		if cur.Kind() == doc.KindMark {
			ids := cur.Labels()
			return ids, len(ids) > 0
		}
		if cur.IsText() && p.Offset == cur.Size() {
			if next, ok := st.NextSibling(cur.Key()); ok && next.Kind() == doc.KindMark {
				ids := next.Labels()
				return ids, len(ids) > 0
			}
		}
		if cur.Parent() == 0 {
			break
		}
		cur, ok = st.Node(cur.Parent())
	}
	return nil, false
}
