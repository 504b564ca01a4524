package doc

import "testing"

func TestPositions(t *testing.T) {
	e := newDoc(t,
		para(text("hello "), mark("a", text("world"))),
		para(),
		para(text("second")),
	)
	st := e.State()
	hello, world, second := st.Texts(st.Root().Child(0))[0], st.Texts(st.Root().Child(0))[1], st.Texts(st.Root().Child(2))[0]

	cases := []struct {
		name string
		pos  Position
		want Point
		ok   bool
	}{
		{name: "start", pos: Position{0, 0}, want: Point{Key: hello, Offset: 0}, ok: true},
		{name: "boundary prefers earlier text", pos: Position{0, 6}, want: Point{Key: hello, Offset: 6}, ok: true},
		{name: "inside mark", pos: Position{0, 8}, want: Point{Key: world, Offset: 2}, ok: true},
		{name: "end of paragraph", pos: Position{0, 11}, want: Point{Key: world, Offset: 5}, ok: true},
		{name: "past the end", pos: Position{0, 12}},
		{name: "empty paragraph", pos: Position{1, 0}, want: Point{Key: st.Root().Child(1)}, ok: true},
		{name: "third paragraph", pos: Position{2, 3}, want: Point{Key: second, Offset: 3}, ok: true},
		{name: "no such paragraph", pos: Position{3, 0}},
		{name: "negative offset", pos: Position{0, -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := st.PointAt(tc.pos)
			if ok != tc.ok || (ok && got != tc.want) {
				t.Fatalf("PointAt(%+v) = %+v, %v; want %+v, %v", tc.pos, got, ok, tc.want, tc.ok)
			}
			if !ok {
				return
			}
			back, ok := st.PositionOf(got)
			if !ok || back != tc.pos {
				t.Fatalf("PositionOf(%+v) = %+v, %v; want %+v", got, back, ok, tc.pos)
			}
		})
	}
}

func TestSelectionAt(t *testing.T) {
	e := newDoc(t, para(text("hello world")))
	st := e.State()
	sel, ok := st.SelectionAt(Position{0, 6}, Position{0, 11})
	if !ok {
		t.Fatalf("SelectionAt failed")
	}
	if got := st.SelectedText(sel); got != "world" {
		t.Fatalf("selected %q, want world", got)
	}
	if _, ok := st.SelectionAt(Position{0, 0}, Position{1, 0}); ok {
		t.Fatalf("SelectionAt accepted a missing paragraph")
	}
}
