package mark

import (
	"errors"
	"reflect"
	"testing"

	"marginalia/internal/doc"
	dt "marginalia/internal/doc/doctest"
)

func newEditor(t *testing.T, paragraphs ...doc.SerializedNode) *doc.Editor {
	t.Helper()
	e := doc.New()
	Register(e)
	if err := dt.Load(e, paragraphs...); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}

func wrap(t *testing.T, e *doc.Editor, id, a string, from int, b string, to int) {
	t.Helper()
	sel, err := dt.Range(e.State(), a, from, b, to)
	if err != nil {
		t.Fatal(err)
	}
	err = e.Update(func(tx *doc.Txn) error {
		if err := tx.SetSelection(sel); err != nil {
			return err
		}
		return WrapSelection(tx, id)
	})
	if err != nil {
		t.Fatalf("wrap %s: %v", id, err)
	}
}

func onlyMark(t *testing.T, e *doc.Editor) doc.NodeKey {
	t.Helper()
	marks := e.State().KeysOfKind(doc.KindMark)
	if len(marks) != 1 {
		t.Fatalf("expected one mark, got %s", dt.Render(e.State()))
	}
	return marks[0]
}

func TestAddIDIsIdempotent(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Mark("t1", dt.Text("abc"))))
	key := onlyMark(t, e)
	err := e.Update(func(tx *doc.Txn) error {
		for _, id := range []string{"t2", "t1", "t2"} {
			if err := AddID(tx, key, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	n, _ := e.Node(key)
	if got := IDs(n); !reflect.DeepEqual(got, []string{"t1", "t2"}) {
		t.Fatalf("IDs = %v", got)
	}
}

func TestDeleteIDKeepsOrder(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Mark("a,b,c", dt.Text("abc"))))
	key := onlyMark(t, e)
	err := e.Update(func(tx *doc.Txn) error {
		if err := DeleteID(tx, key, "b"); err != nil {
			return err
		}
		return DeleteID(tx, key, "missing")
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := e.Node(key)
	if got := IDs(n); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("IDs = %v", got)
	}
}

func TestMarkOperationsRejectOtherNodes(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Text("abc")))
	key, _ := dt.FindText(e.State(), "abc")
	err := e.Update(func(tx *doc.Txn) error { return AddID(tx, key, "x") })
	if !errors.Is(err, ErrNotMark) {
		t.Fatalf("expected ErrNotMark, got %v", err)
	}
}

func TestWrapSelection(t *testing.T) {
	cases := []struct {
		name  string
		doc   []doc.SerializedNode
		a     string
		from  int
		b     string
		to    int
		want  string
		marks int
	}{
		{
			name: "prefix of a text",
			doc:  []doc.SerializedNode{dt.Para(dt.Text("hello world"))},
			a:    "hello world", from: 0, b: "hello world", to: 5,
			want: `<t:"hello">" world"`, marks: 1,
		},
		{
			name: "backward selection",
			doc:  []doc.SerializedNode{dt.Para(dt.Text("hello world"))},
			a:    "hello world", from: 11, b: "hello world", to: 6,
			want: `"hello "<t:"world">`, marks: 1,
		},
		{
			name: "across paragraphs",
			doc:  []doc.SerializedNode{dt.Para(dt.Text("abc")), dt.Para(dt.Text("def"))},
			a:    "abc", from: 1, b: "def", to: 2,
			want: `"a"<t:"bc">|<t:"de">"f"`, marks: 2,
		},
		{
			name: "inside existing mark with the same id",
			doc:  []doc.SerializedNode{dt.Para(dt.Mark("t", dt.Text("hello")))},
			a:    "hello", from: 1, b: "hello", to: 3,
			want: `<t:"hello">`, marks: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEditor(t, tc.doc...)
			wrap(t, e, "t", tc.a, tc.from, tc.b, tc.to)
			if got := dt.Render(e.State()); got != tc.want {
				t.Fatalf("render = %s, want %s", got, tc.want)
			}
			if got := len(e.State().KeysOfKind(doc.KindMark)); got != tc.marks {
				t.Fatalf("marks = %d, want %d", got, tc.marks)
			}
		})
	}
}

func TestOverlappingWrapsShareMarks(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Text("hello world")))
	wrap(t, e, "t1", "hello world", 0, "hello world", 7)
	wrap(t, e, "t2", "hello w", 3, "orld", 4)

	if got, want := dt.Render(e.State()), `<t1:"hel"><t1,t2:"lo w"><t2:"orld">`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
	for _, key := range e.State().KeysOfKind(doc.KindMark) {
		n, _ := e.Node(key)
		ids := IDs(n)
		seen := map[string]bool{}
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("duplicate id %q in %v", id, ids)
			}
			seen[id] = true
		}
	}
}

func TestWrapCollapsedSelectionFails(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Text("abc")))
	key, _ := dt.FindText(e.State(), "abc")
	err := e.Update(func(tx *doc.Txn) error {
		if err := tx.SetSelection(doc.Caret(doc.Point{Key: key, Offset: 1})); err != nil {
			return err
		}
		return WrapSelection(tx, "t")
	})
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if got := dt.Render(e.State()); got != `"abc"` {
		t.Fatalf("failed wrap changed the document: %s", got)
	}
}

func TestRemoveIDUnwrapsEmptyMarks(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Text("a"), dt.Mark("t1,t2", dt.Text("b")), dt.Mark("t1", dt.Text("c"))))
	marks := e.State().KeysOfKind(doc.KindMark)

	if err := e.Update(func(tx *doc.Txn) error { return RemoveID(tx, marks, "t1") }); err != nil {
		t.Fatalf("remove t1: %v", err)
	}
	if got, want := dt.Render(e.State()), `"a"<t2:"b">"c"`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
	if err := e.Update(func(tx *doc.Txn) error { return RemoveID(tx, marks, "t2") }); err != nil {
		t.Fatalf("remove t2: %v", err)
	}
	if got, want := dt.Render(e.State()), `"abc"`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
}

func TestSplitKeepsIDsOnBothHalves(t *testing.T) {
	for offset := 1; offset < 3; offset++ {
		e := newEditor(t, dt.Para(dt.Mark("s1,s2", dt.Text("abc"))))
		key, _ := dt.FindText(e.State(), "abc")
		err := e.Update(func(tx *doc.Txn) error {
			if err := tx.SetSelection(doc.Caret(doc.Point{Key: key, Offset: offset})); err != nil {
				return err
			}
			return tx.InsertParagraph()
		})
		if err != nil {
			t.Fatalf("split at %d: %v", offset, err)
		}
		marks := e.State().KeysOfKind(doc.KindMark)
		if len(marks) != 2 {
			t.Fatalf("split at %d: %s", offset, dt.Render(e.State()))
		}
		for _, k := range marks {
			n, _ := e.Node(k)
			if got := IDs(n); !reflect.DeepEqual(got, []string{"s1", "s2"}) {
				t.Fatalf("split at %d: mark %d has %v", offset, k, got)
			}
		}
	}
}

func TestResolverMergeIsUnion(t *testing.T) {
	if got := Union([]string{"a", "b"}, []string{"b", "c", "a"}); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Union = %v", got)
	}
}

func TestIDsAt(t *testing.T) {
	e := newEditor(t, dt.Para(dt.Text("plain"), dt.Mark("t1,t2", dt.Text("marked")), dt.Text("tail")))
	st := e.State()
	plain, _ := dt.FindText(st, "plain")
	marked, _ := dt.FindText(st, "marked")
	tail, _ := dt.FindText(st, "tail")

	cases := []struct {
		name string
		p    doc.Point
		want []string
	}{
		{name: "inside mark", p: doc.Point{Key: marked, Offset: 2}, want: []string{"t1", "t2"}},
		{name: "end of text before mark", p: doc.Point{Key: plain, Offset: 5}, want: []string{"t1", "t2"}},
		{name: "middle of plain text", p: doc.Point{Key: plain, Offset: 2}},
		{name: "after mark", p: doc.Point{Key: tail, Offset: 0}},
		{name: "unknown key", p: doc.Point{Key: 9999}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := IDsAt(st, tc.p)
			if ok != (tc.want != nil) || !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("IDsAt = %v, %v; want %v", got, ok, tc.want)
			}
		})
	}
}
