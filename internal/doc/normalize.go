package doc

import "slices"

// normalize restores the structural rules of the tree over every element
// touched by the transaction:
//   - empty text nodes are removed
//   - elements that cannot be empty are removed once they lose all children
//   - adjacent text siblings are merged
//   - adjacent siblings of a resolver kind with equal label sets are merged
//   - a resolver-kind element directly inside one of the same kind is lifted
//     out: the outer element is split around it and the inner one takes the
//     merged label set over its own span only
func (tx *Txn) normalize() error {
	queue := make([]NodeKey, 0, len(tx.dirty))
	queued := map[NodeKey]bool{}
	push := func(k NodeKey) {
		if k != 0 && !queued[k] {
			queued[k] = true
			queue = append(queue, k)
		}
	}
	for k := range tx.dirty {
		if n, ok := tx.st.nodes[k]; ok {
			push(n.parent)
			if n.kind.IsElement() {
				push(k)
			}
		}
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		queued[key] = false
		n, ok := tx.st.nodes[key]
		if !ok || !n.kind.IsElement() || (n.parent == 0 && key != RootKey) {
			continue
		}
		if !n.kind.CanBeEmpty() && len(n.children) == 0 {
			parent := n.parent
			if err := tx.Remove(key); err != nil {
				return err
			}
			push(parent)
			continue
		}
		changed, touched, err := tx.normalizeChildren(key)
		if err != nil {
			return err
		}
		for _, k := range touched {
			push(k)
		}
		if changed {
			push(n.parent)
		}
	}
	return nil
}

func (tx *Txn) normalizeChildren(key NodeKey) (changed bool, touched []NodeKey, err error) {
	for i := 0; i < len(tx.st.nodes[key].children); i++ {
		parent := tx.st.nodes[key]
		c := tx.st.nodes[parent.children[i]]

		if c.kind == KindText && c.text == "" {
			if err := tx.Remove(c.key); err != nil {
				return false, nil, err
			}
			changed = true
			i--
			continue
		}
		if c.kind.IsElement() && !c.kind.CanBeEmpty() && len(c.children) == 0 {
			if err := tx.Remove(c.key); err != nil {
				return false, nil, err
			}
			changed = true
			i--
			continue
		}

		res, resolvable := tx.editor.resolver(c.kind)
		if resolvable && c.kind == parent.kind {
			lifted, err := tx.flattenNested(res, key, i)
			if err != nil {
				return false, nil, err
			}
			return true, lifted, nil
		}

		if i == 0 {
			continue
		}
		prev := tx.st.nodes[parent.children[i-1]]
		switch {
		case prev.kind == KindText && c.kind == KindText:
			size := prev.Size()
			w, err := tx.writable(prev.key)
			if err != nil {
				return false, nil, err
			}
			w.text += c.text
			tx.relocatePoints(func(p Point) (Point, bool) {
				if p.Key == c.key {
					return Point{Key: prev.key, Offset: size + p.Offset}, true
				}
				return p, false
			})
			if err := tx.Remove(c.key); err != nil {
				return false, nil, err
			}
			changed = true
			i--
		case resolvable && prev.kind == c.kind && sameLabels(prev.labels, c.labels):
			if err := tx.MergeElements(prev.key, c.key); err != nil {
				return false, nil, err
			}
			touched = append(touched, prev.key)
			changed = true
			i--
		}
	}
	return changed, touched, nil
}

// flattenNested splits the element at key around its i-th child, which has
// the same kind, so that the child ends up alone in a copy of the outer
// element. That copy takes the merged labels and absorbs the child. The
// outer element and its copies are returned for another pass.
func (tx *Txn) flattenNested(res Resolver, key NodeKey, i int) ([]NodeKey, error) {
	touched := []NodeKey{key}
	outer := tx.st.nodes[key]
	inner := outer.children[i]
	if i < len(outer.children)-1 {
		after := res.Factory(tx, outer)
		if err := tx.InsertAfter(key, after); err != nil {
			return nil, err
		}
		if err := tx.moveChildren(key, i+1, after, 0); err != nil {
			return nil, err
		}
		touched = append(touched, after)
	}
	host := key
	if i > 0 {
		host = res.Factory(tx, tx.st.nodes[key])
		if err := tx.InsertAfter(key, host); err != nil {
			return nil, err
		}
		if err := tx.moveChildren(key, i, host, 0); err != nil {
			return nil, err
		}
		touched = append(touched, host)
	}
	if err := tx.SetLabels(host, res.Merge(tx, tx.st.nodes[host], tx.st.nodes[inner])); err != nil {
		return nil, err
	}
	if err := tx.absorb(host, inner, 0); err != nil {
		return nil, err
	}
	return touched, nil
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
