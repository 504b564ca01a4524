package doc

// Position addresses a place in the plain text of the document: a paragraph
// index and a rune offset into that paragraph's text. Unlike Point it stays
// meaningful to clients that never see node keys.
type Position struct {
	Block  int `json:"block"`
	Offset int `json:"offset"`
}

// PointAt resolves pos to a point. An offset on the boundary of two text
// nodes resolves to the end of the first one.
func (st *State) PointAt(pos Position) (Point, bool) {
	root := st.Root()
	if pos.Block < 0 || pos.Block >= len(root.children) || pos.Offset < 0 {
		return Point{}, false
	}
	block := root.children[pos.Block]
	texts := st.Texts(block)
	if len(texts) == 0 {
		return Point{Key: block}, pos.Offset == 0
	}
	remaining := pos.Offset
	for _, k := range texts {
		size := st.nodes[k].Size()
		if remaining <= size {
			return Point{Key: k, Offset: remaining}, true
		}
		remaining -= size
	}
	return Point{}, false
}

// PositionOf is the inverse of PointAt.
func (st *State) PositionOf(p Point) (Position, bool) {
	if n, found := st.nodes[p.Key]; found && n.parent == RootKey && len(st.Texts(p.Key)) == 0 {
		return Position{Block: st.Root().indexOf(p.Key)}, true
	}
	tp, ok := st.TextPoint(p)
	if !ok {
		return Position{}, false
	}
	block := st.Block(tp.Key)
	if block == 0 {
		return Position{}, false
	}
	offset := 0
	for _, k := range st.Texts(block) {
		if k == tp.Key {
			return Position{Block: st.Root().indexOf(block), Offset: offset + tp.Offset}, true
		}
		offset += st.nodes[k].Size()
	}
	return Position{}, false
}

// SelectionAt builds a selection from two positions.
func (st *State) SelectionAt(anchor, focus Position) (Selection, bool) {
	a, ok1 := st.PointAt(anchor)
	f, ok2 := st.PointAt(focus)
	if !ok1 || !ok2 {
		return Selection{}, false
	}
	return Selection{Anchor: a, Focus: f}, true
}
