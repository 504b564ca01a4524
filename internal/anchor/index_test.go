package anchor

import (
	"reflect"
	"testing"

	"marginalia/internal/doc"
	dt "marginalia/internal/doc/doctest"
)

func TestIndexDiffsAgainstLastIDs(t *testing.T) {
	ix := NewIndex()
	ix.set(7, []string{"a", "b"})
	ix.set(9, []string{"b"})
	ix.set(7, []string{"b", "c"})

	want := map[string][]doc.NodeKey{"b": {7, 9}, "c": {7}}
	if got := ix.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	if ix.Has("a") {
		t.Fatal("stale id not pruned")
	}

	ix.evict(7)
	ix.evict(42)
	if got := ix.IDs(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("ids = %v", got)
	}
	if ix.Len() != 1 || !reflect.DeepEqual(ix.Keys("b"), []doc.NodeKey{9}) {
		t.Fatalf("index = %v", ix.Snapshot())
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	e := doc.New()
	if err := dt.Load(e, dt.Para(dt.Mark("t1", dt.Text("one")), dt.Text(" "), dt.Mark("t2", dt.Text("two")))); err != nil {
		t.Fatal(err)
	}
	ix := NewIndex()
	syncer := NewSynchronizer(e, ix, nil)
	defer syncer.Start()()
	if err := Verify(e.State(), ix); err != nil {
		t.Fatalf("seeded index: %v", err)
	}

	one := ix.Keys("t1")[0]
	ix.evict(one)
	if err := Verify(e.State(), ix); err == nil {
		t.Fatal("missing entry not detected")
	}
	ix.set(one, []string{"t1", "ghost"})
	if err := Verify(e.State(), ix); err == nil {
		t.Fatal("extra id not detected")
	}

	syncer.Apply(e.State(), map[doc.NodeKey]doc.Mutation{one: doc.Destroyed})
	if err := Verify(e.State(), ix); err != nil {
		t.Fatalf("reapplied index: %v", err)
	}
}
