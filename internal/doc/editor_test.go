package doc

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func text(s string) SerializedNode { return SerializedNode{Type: "text", Text: s} }

func para(children ...SerializedNode) SerializedNode {
	return SerializedNode{Type: "paragraph", Children: children}
}

func mark(ids string, children ...SerializedNode) SerializedNode {
	return SerializedNode{Type: "mark", IDs: strings.Split(ids, ","), Children: children}
}

func testResolver() Resolver {
	return Resolver{
		Factory: func(tx *Txn, original *Node) NodeKey {
			return tx.CreateElement(original.Kind(), original.Labels())
		},
		Merge: func(tx *Txn, survivor, absorbed *Node) []string {
			return append(survivor.Labels(), absorbed.Labels()...)
		},
	}
}

func newDoc(t *testing.T, paragraphs ...SerializedNode) *Editor {
	t.Helper()
	e := New()
	e.RegisterDuplicationResolver(KindMark, testResolver())
	err := e.Update(func(tx *Txn) error {
		return tx.Import(SerializedNode{Type: "root", Children: paragraphs})
	}, TagHistoryMerge)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return e
}

// render prints paragraphs separated by "|", marks as <ids:children> and
// text quoted.
func render(st *State) string {
	var parts []string
	for _, p := range st.Root().Children() {
		parts = append(parts, renderNode(st, p))
	}
	return strings.Join(parts, "|")
}

func renderNode(st *State, key NodeKey) string {
	n, _ := st.Node(key)
	switch n.Kind() {
	case KindText:
		return fmt.Sprintf("%q", n.Text())
	case KindMark:
		var b strings.Builder
		b.WriteString("<" + strings.Join(n.Labels(), ",") + ":")
		for _, c := range n.Children() {
			b.WriteString(renderNode(st, c))
		}
		return b.String() + ">"
	default:
		var b strings.Builder
		for _, c := range n.Children() {
			b.WriteString(renderNode(st, c))
		}
		return b.String()
	}
}

func findText(t *testing.T, st *State, s string) NodeKey {
	t.Helper()
	for _, k := range st.KeysOfKind(KindText) {
		if n, _ := st.Node(k); n.Text() == s {
			return k
		}
	}
	t.Fatalf("no text node %q in %s", s, render(st))
	return 0
}

func TestUpdateReportsMutationsPerKind(t *testing.T) {
	e := New()
	var batches []map[NodeKey]Mutation
	e.RegisterMutationListener(KindText, func(st *State, m map[NodeKey]Mutation) {
		batches = append(batches, m)
	})

	var key NodeKey
	err := e.Update(func(tx *Txn) error {
		p := tx.CreateParagraph()
		if err := tx.Append(RootKey, p); err != nil {
			return err
		}
		key = tx.CreateText("hi")
		return tx.Append(p, key)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][key] != Created {
		t.Fatalf("expected one created text, got %v", batches)
	}

	if err := e.Update(func(tx *Txn) error { return tx.SetText(key, "hey") }); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if got := batches[1][key]; got != Updated {
		t.Fatalf("expected updated, got %v", got)
	}

	if err := e.Update(func(tx *Txn) error { return tx.Remove(key) }); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := batches[2][key]; got != Destroyed {
		t.Fatalf("expected destroyed, got %v", got)
	}
	if _, ok := e.Node(key); ok {
		t.Fatal("removed node still resolvable")
	}
}

func TestFailedUpdateDiscardsChanges(t *testing.T) {
	e := New()
	calls := 0
	e.RegisterUpdateListener(func(UpdateInfo) { calls++ })
	boom := errors.New("boom")

	err := e.Update(func(tx *Txn) error {
		p := tx.CreateParagraph()
		if err := tx.Append(RootKey, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if e.State().Root().ChildCount() != 0 {
		t.Fatal("failed update leaked into committed state")
	}
	if calls != 0 {
		t.Fatalf("listeners ran for a failed update: %d", calls)
	}
}

func TestCommittedStatesAreIsolated(t *testing.T) {
	e := newDoc(t, para(text("hello")))
	before := e.State()
	key := findText(t, before, "hello")

	if err := e.Update(func(tx *Txn) error { return tx.SetText(key, "bye") }); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if n, _ := before.Node(key); n.Text() != "hello" {
		t.Fatalf("old state changed to %q", n.Text())
	}
	if n, _ := e.Node(key); n.Text() != "bye" {
		t.Fatalf("new state has %q", n.Text())
	}
}

func TestInsertParagraphSplitsMarksThroughResolver(t *testing.T) {
	e := newDoc(t, para(mark("a", text("hello world"))))
	key := findText(t, e.State(), "hello world")

	var marks map[NodeKey]Mutation
	e.RegisterMutationListener(KindMark, func(st *State, m map[NodeKey]Mutation) { marks = m })

	err := e.Update(func(tx *Txn) error {
		if err := tx.SetSelection(Caret(Point{Key: key, Offset: 5})); err != nil {
			return err
		}
		return tx.InsertParagraph()
	})
	if err != nil {
		t.Fatalf("insert paragraph: %v", err)
	}
	if got, want := render(e.State()), `<a:"hello">|<a:" world">`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}

	created, updated := 0, 0
	for _, m := range marks {
		switch m {
		case Created:
			created++
		case Updated:
			updated++
		}
	}
	if created != 1 || updated != 1 {
		t.Fatalf("expected one created and one updated mark, got %v", marks)
	}

	sel, _ := e.State().Selection()
	if n, _ := e.Node(sel.Anchor.Key); n.Text() != " world" || sel.Anchor.Offset != 0 {
		t.Fatalf("caret not at start of new paragraph: %+v", sel)
	}
}

func TestSplitWithoutResolverFails(t *testing.T) {
	e := New()
	err := e.Update(func(tx *Txn) error {
		return tx.Import(SerializedNode{Type: "root", Children: []SerializedNode{para(mark("a", text("abcd")))}})
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	key := findText(t, e.State(), "abcd")
	err = e.Update(func(tx *Txn) error {
		_, _, err := tx.SplitInline(Point{Key: key, Offset: 2})
		return err
	})
	if !errors.Is(err, ErrNoResolver) {
		t.Fatalf("expected ErrNoResolver, got %v", err)
	}
}

func TestNormalizeMergesEqualNeighboursAndNestedMarks(t *testing.T) {
	cases := []struct {
		name string
		in   SerializedNode
		want string
	}{
		{name: "adjacent text", in: para(text("a"), text("b")), want: `"ab"`},
		{name: "equal marks", in: para(mark("x", text("a")), mark("x", text("b"))), want: `<x:"ab">`},
		{name: "different marks stay apart", in: para(mark("x", text("a")), mark("y", text("b"))), want: `<x:"a"><y:"b">`},
		{name: "nested marks collapse", in: para(mark("x", mark("y", text("a")))), want: `<x,y:"a">`},
		{name: "nested mark in the middle", in: para(mark("a", text("x"), mark("b", text("y")), text("z"))), want: `<a:"x"><a,b:"y"><a:"z">`},
		{name: "nested mark at the start", in: para(mark("a", mark("b", text("y")), text("z"))), want: `<a,b:"y"><a:"z">`},
		{name: "nested mark at the end", in: para(mark("a", text("x"), mark("b", text("y")))), want: `<a:"x"><a,b:"y">`},
		{name: "two nested marks", in: para(mark("a", mark("b", text("1")), text("2"), mark("c", text("3")))), want: `<a,b:"1"><a:"2"><a,c:"3">`},
		{name: "nested equal mark rejoins", in: para(mark("a", text("x"), mark("a", text("y")))), want: `<a:"xy">`},
		{name: "empty text dropped", in: para(text(""), mark("x", text("a"))), want: `<x:"a">`},
		{name: "empty mark dropped", in: para(text("a"), mark("x")), want: `"a"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newDoc(t, tc.in)
			if got := render(e.State()); got != tc.want {
				t.Fatalf("render = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMergeElementsUnionsLabels(t *testing.T) {
	e := newDoc(t, para(mark("a,b", text("x")), mark("b,c", text("y"))))
	marks := e.State().KeysOfKind(KindMark)
	if len(marks) != 2 {
		t.Fatalf("expected two marks, got %s", render(e.State()))
	}
	if err := e.Update(func(tx *Txn) error { return tx.MergeElements(marks[0], marks[1]) }); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got, want := render(e.State()), `<a,b,c:"xy">`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
}

func TestDeleteSelectionAcrossParagraphsJoinsThem(t *testing.T) {
	e := newDoc(t, para(mark("a", text("hello"))), para(mark("a", text("world"))))
	st := e.State()
	h, w := findText(t, st, "hello"), findText(t, st, "world")

	err := e.Update(func(tx *Txn) error {
		if err := tx.SetSelection(Selection{Anchor: Point{Key: h, Offset: 5}, Focus: Point{Key: w}}); err != nil {
			return err
		}
		return tx.DeleteSelection()
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, want := render(e.State()), `<a:"helloworld">`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
}

func TestDeleteSelectionRemovesCoveredContent(t *testing.T) {
	e := newDoc(t, para(text("one "), mark("a", text("two")), text(" three")), para(text("four")), para(text("five")))
	st := e.State()
	one, five := findText(t, st, "one "), findText(t, st, "five")

	err := e.Update(func(tx *Txn) error {
		if err := tx.SetSelection(Selection{Anchor: Point{Key: five, Offset: 2}, Focus: Point{Key: one, Offset: 2}}); err != nil {
			return err
		}
		return tx.DeleteSelection()
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, want := render(e.State()), `"onve"`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
	if len(e.State().KeysOfKind(KindMark)) != 0 {
		t.Fatal("mark with no content survived")
	}
}

func TestInsertTextWithNewlines(t *testing.T) {
	e := newDoc(t, para(text("ab")))
	key := findText(t, e.State(), "ab")
	err := e.Update(func(tx *Txn) error {
		if err := tx.SetSelection(Caret(Point{Key: key, Offset: 1})); err != nil {
			return err
		}
		return tx.InsertText("X\nY")
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, want := render(e.State()), `"aX"|"Yb"`; got != want {
		t.Fatalf("render = %s, want %s", got, want)
	}
}

func TestInsertTextIntoEmptyParagraph(t *testing.T) {
	e := newDoc(t, para())
	p := e.State().Root().Child(0)
	err := e.Update(func(tx *Txn) error {
		if err := tx.SetSelection(Caret(Point{Key: p})); err != nil {
			return err
		}
		return tx.InsertText("hi")
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := render(e.State()); got != `"hi"` {
		t.Fatalf("render = %s", got)
	}
}

func TestSelectedText(t *testing.T) {
	e := newDoc(t, para(text("hello")), para(mark("a", text("world"))))
	st := e.State()
	h, w := findText(t, st, "hello"), findText(t, st, "world")
	sel := Selection{Anchor: Point{Key: w, Offset: 3}, Focus: Point{Key: h, Offset: 1}}
	if got := st.SelectedText(sel); got != "ello\nwor" {
		t.Fatalf("selected text = %q", got)
	}
	if !st.IsBackward(sel) {
		t.Fatal("expected backward selection")
	}
}

func TestUndoRedoReplaysMutations(t *testing.T) {
	e := newDoc(t, para(text("keep")), para(text("drop")))
	drop := findText(t, e.State(), "drop")

	var last map[NodeKey]Mutation
	var tags []string
	e.RegisterMutationListener(KindText, func(st *State, m map[NodeKey]Mutation) { last = m })
	e.RegisterUpdateListener(func(u UpdateInfo) {
		if u.HasTag(TagHistoric) {
			tags = append(tags, TagHistoric)
		}
	})

	if err := e.Update(func(tx *Txn) error { return tx.Remove(drop) }); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !e.Undo() {
		t.Fatal("undo reported nothing to undo")
	}
	if last[drop] != Created {
		t.Fatalf("undo should recreate %d, got %v", drop, last)
	}
	if got := render(e.State()); got != `"keep"|"drop"` {
		t.Fatalf("after undo: %s", got)
	}
	if !e.Redo() {
		t.Fatal("redo reported nothing to redo")
	}
	if last[drop] != Destroyed {
		t.Fatalf("redo should destroy %d, got %v", drop, last)
	}
	if len(tags) != 2 {
		t.Fatalf("expected two historic commits, got %d", len(tags))
	}
	if e.CanRedo() {
		t.Fatal("redo stack should be empty")
	}
}

func TestContentCommitsClearRedo(t *testing.T) {
	for _, tag := range []string{"", TagHistoryMerge, TagCollaboration} {
		t.Run("tag="+tag, func(t *testing.T) {
			e := newDoc(t, para(text("keep")), para(text("drop")))
			drop := findText(t, e.State(), "drop")
			if err := e.Update(func(tx *Txn) error { return tx.Remove(drop) }); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if !e.Undo() || !e.CanRedo() {
				t.Fatal("undo should leave a redo state")
			}
			keep := findText(t, e.State(), "keep")
			var tags []string
			if tag != "" {
				tags = append(tags, tag)
			}
			if err := e.Update(func(tx *Txn) error { return tx.SetText(keep, "kept") }, tags...); err != nil {
				t.Fatalf("set text: %v", err)
			}
			if e.CanRedo() {
				t.Fatal("redo stack should be cleared by a content change")
			}
			if e.Redo() {
				t.Fatal("redo replayed a stale state")
			}
			if got := render(e.State()); got != `"kept"|"drop"` {
				t.Fatalf("got %s", got)
			}
		})
	}
}

func TestDeferFromListenerRunsAfterCommit(t *testing.T) {
	e := newDoc(t, para(text("hi")))
	key := findText(t, e.State(), "hi")
	fired := false
	e.RegisterMutationListener(KindText, func(st *State, m map[NodeKey]Mutation) {
		if fired {
			return
		}
		fired = true
		e.Defer(func(tx *Txn) error {
			n, _ := tx.Node(key)
			return tx.SetText(key, n.Text()+"!")
		})
	})

	if err := e.Update(func(tx *Txn) error { return tx.SetText(key, "hey") }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n, _ := e.Node(key); n.Text() != "hey!" {
		t.Fatalf("deferred update did not run, text %q", n.Text())
	}
}

func TestDispatchRunsHandlersByPriority(t *testing.T) {
	e := New()
	const cmd Command = "PING"
	var order []string
	e.RegisterCommand(cmd, func(any) bool { order = append(order, "low"); return true }, PriorityLow)
	e.RegisterCommand(cmd, func(any) bool { order = append(order, "high"); return false }, PriorityHigh)
	unregister := e.RegisterCommand(cmd, func(any) bool { order = append(order, "critical"); return true }, PriorityCritical)
	unregister()

	if !e.Dispatch(cmd, nil) {
		t.Fatal("expected command to be handled")
	}
	if strings.Join(order, ",") != "high,low" {
		t.Fatalf("handler order = %v", order)
	}
	if e.Dispatch("UNKNOWN", nil) {
		t.Fatal("unknown command reported handled")
	}
}

func TestExportImportKeepsStructure(t *testing.T) {
	e := newDoc(t, para(text("a "), mark("t1,t2", text("b"))), para())
	data, err := MarshalState(e.State())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	root, err := ParseSerialized(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	other := newDoc(t)
	if err := other.Update(func(tx *Txn) error { return tx.Import(root) }); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got, want := render(other.State()), render(e.State()); got != want {
		t.Fatalf("round trip = %s, want %s", got, want)
	}
	if _, err := ParseSerialized([]byte(`{"type":"paragraph"}`)); err == nil {
		t.Fatal("expected error for non-root document")
	}
}
