package comments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"marginalia/internal/collab"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ItemID()
	}
	return out
}

func commentIDs(t Thread) []string {
	out := make([]string, len(t.Comments))
	for i, c := range t.Comments {
		out[i] = c.ID
	}
	return out
}

func mustThread(t *testing.T, s *Store, id string) Thread {
	t.Helper()
	th, ok := s.Thread(id)
	if !ok {
		t.Fatalf("thread %s not found in %v", id, ids(s.Comments()))
	}
	return th
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddCommentOrdersItems(t *testing.T) {
	s := NewStore()
	t1 := NewThread("hello", NewComment("first", "ann"))
	t2 := NewThread("world")
	s.AddComment(t1, nil, Append)
	s.AddComment(t2, nil, 0)
	if got := ids(s.Comments()); !equal(got, []string{t2.ID, t1.ID}) {
		t.Fatalf("order = %v", got)
	}

	reply := NewComment("second", "bob")
	early := NewComment("zeroth", "cy")
	s.AddComment(reply, &t1, Append)
	s.AddComment(early, &t1, 0)
	th := mustThread(t, s, t1.ID)
	if got, want := commentIDs(th), []string{early.ID, t1.Comments[0].ID, reply.ID}; !equal(got, want) {
		t.Fatalf("thread comments = %v, want %v", got, want)
	}
}

func TestDeleteCommentLeavesTombstoneAndCanBeRestored(t *testing.T) {
	s := NewStore()
	a, b, c := NewComment("a", "ann"), NewComment("b", "bob"), NewComment("c", "cy")
	th := NewThread("quote", a, b, c)
	s.AddComment(th, nil, Append)

	d := s.DeleteCommentOrThread(b, &th)
	removed, ok := d.Comment()
	if !ok || removed.ID != b.ID || removed.Content != "b" || d.Index != 1 {
		t.Fatalf("deletion = %+v", d)
	}
	got := mustThread(t, s, th.ID)
	if len(got.Comments) != 3 || !got.Comments[1].Deleted || got.Comments[1].Content != "" {
		t.Fatalf("expected tombstone at index 1, got %+v", got.Comments)
	}
	if got.Live() != 2 {
		t.Fatalf("live comments = %d", got.Live())
	}
	if again := s.DeleteCommentOrThread(b, &th); again != nil {
		t.Fatalf("deleting a tombstone should be a no-op, got %+v", again)
	}

	s.AddComment(removed, &th, d.Index)
	got = mustThread(t, s, th.ID)
	if !equal(commentIDs(got), []string{a.ID, b.ID, c.ID}) || got.Comments[1].Deleted || got.Comments[1].Content != "b" {
		t.Fatalf("restore did not put the comment back: %+v", got.Comments)
	}
}

func TestDeleteThreadRemovesIt(t *testing.T) {
	s := NewStore()
	t1, t2 := NewThread("one"), NewThread("two")
	s.AddComment(t1, nil, Append)
	s.AddComment(t2, nil, Append)

	d := s.DeleteCommentOrThread(t1, nil)
	if d == nil || d.Index != 0 || d.Item.ItemID() != t1.ID {
		t.Fatalf("deletion = %+v", d)
	}
	if got := ids(s.Comments()); !equal(got, []string{t2.ID}) {
		t.Fatalf("remaining = %v", got)
	}
}

func TestMissingTargetsAreNoOps(t *testing.T) {
	s := NewStore()
	notified := 0
	s.Subscribe(func([]Item) { notified++ })

	ghost := NewThread("ghost")
	s.AddComment(NewComment("hi", "ann"), &ghost, Append)
	if d := s.DeleteCommentOrThread(ghost, nil); d != nil {
		t.Fatalf("expected nil deletion, got %+v", d)
	}
	if d := s.DeleteCommentOrThread(NewComment("x", "y"), &ghost); d != nil {
		t.Fatalf("expected nil deletion, got %+v", d)
	}
	if d := s.DeleteCommentOrThread(nil, nil); d != nil {
		t.Fatalf("expected nil deletion, got %+v", d)
	}
	if notified != 0 || len(s.Comments()) != 0 {
		t.Fatalf("no-op operations changed the store: notified=%d items=%d", notified, len(s.Comments()))
	}
}

func TestSubscribersGetIndependentSnapshots(t *testing.T) {
	s := NewStore()
	var seen [][]Item
	unsubscribe := s.Subscribe(func(items []Item) { seen = append(seen, items) })

	th := NewThread("q", NewComment("a", "ann"))
	s.AddComment(th, nil, Append)
	if len(seen) != 1 || len(seen[0]) != 1 {
		t.Fatalf("expected one notification with one item, got %v", seen)
	}
	snap := seen[0][0].(Thread)
	snap.Comments[0].Content = "mutated"
	if got := mustThread(t, s, th.ID); got.Comments[0].Content != "a" {
		t.Fatal("subscriber snapshot aliases store state")
	}

	unsubscribe()
	s.AddComment(NewThread("r"), nil, Append)
	if len(seen) != 1 {
		t.Fatalf("unsubscribed callback still called: %d", len(seen))
	}
}

func TestItemsRoundTripThroughJSON(t *testing.T) {
	items := []Item{NewThread("q", NewComment("a", "ann")), NewComment("standalone", "bob")}
	data, err := EncodeItems(items)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeItems(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !equal(ids(back), ids(items)) {
		t.Fatalf("ids = %v, want %v", ids(back), ids(items))
	}
	if _, ok := back[0].(Thread); !ok {
		t.Fatalf("first item decoded as %T", back[0])
	}
	if _, err := DecodeItem([]byte(`{"type":"poll","id":"x"}`)); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func connectedPair(t *testing.T) (*Store, *Store, collab.Provider) {
	t.Helper()
	hub := collab.NewHub()
	factory := hub.Factory()
	pa, _ := factory("comments", nil)
	pb, _ := factory("comments", nil)
	a, b := NewStore(), NewStore()
	t.Cleanup(a.RegisterCollaboration(context.Background(), pa))
	t.Cleanup(b.RegisterCollaboration(context.Background(), pb))
	return a, b, pa
}

func TestCollaborationMirrorsBetweenStores(t *testing.T) {
	a, b, _ := connectedPair(t)

	first := NewComment("hi", "ann")
	th := NewThread("hello", first)
	a.AddComment(th, nil, Append)
	if got := mustThread(t, b, th.ID); len(got.Comments) != 1 {
		t.Fatalf("remote thread = %+v", got)
	}

	reply := NewComment("hey", "bob")
	b.AddComment(reply, &th, Append)
	if got := mustThread(t, a, th.ID); !equal(commentIDs(got), []string{first.ID, reply.ID}) {
		t.Fatalf("remote reply not applied: %v", commentIDs(got))
	}

	a.DeleteCommentOrThread(first, &th)
	if got := mustThread(t, b, th.ID); !got.Comments[0].Deleted {
		t.Fatal("remote tombstone not applied")
	}

	b.DeleteCommentOrThread(th, nil)
	if len(a.Comments()) != 0 {
		t.Fatalf("remote thread delete not applied: %v", ids(a.Comments()))
	}
}

func TestLateJoinerReplaysHistory(t *testing.T) {
	hub := collab.NewHub()
	factory := hub.Factory()
	pa, _ := factory("comments", nil)
	a := NewStore()
	defer a.RegisterCollaboration(context.Background(), pa)()

	t1, t2 := NewThread("one"), NewThread("two")
	a.AddComment(t1, nil, Append)
	a.AddComment(t2, nil, Append)
	a.DeleteCommentOrThread(t1, nil)

	pb, _ := factory("comments", nil)
	b := NewStore()
	defer b.RegisterCollaboration(context.Background(), pb)()
	if got := ids(b.Comments()); !equal(got, []string{t2.ID}) {
		t.Fatalf("late joiner = %v", got)
	}
}

func TestReconnectReplaysOnlyMissedChanges(t *testing.T) {
	a, b, _ := connectedPair(t)
	ctx := context.Background()

	th := NewThread("hello", NewComment("one", "ann"))
	a.AddComment(th, nil, Append)
	t1 := mustThread(t, b, th.ID)
	b.AddComment(NewComment("two", "bob"), &t1, Append)

	if err := b.SetConnected(ctx, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	t2 := mustThread(t, a, th.ID)
	a.AddComment(NewComment("three", "ann"), &t2, Append)
	if got := mustThread(t, b, th.ID); len(got.Comments) != 2 {
		t.Fatalf("disconnected store received %+v", got.Comments)
	}

	if err := b.SetConnected(ctx, true); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	got := mustThread(t, b, th.ID)
	if len(got.Comments) != 3 || got.Comments[1].Content != "two" || got.Comments[2].Content != "three" {
		t.Fatalf("after reconnect = %+v", got.Comments)
	}
}

func TestMalformedRemoteChangeIsDropped(t *testing.T) {
	a, b, pa := connectedPair(t)
	th := NewThread("ok")
	a.AddComment(th, nil, Append)

	bad := collab.Change{Origin: "intruder", Op: collab.OpInsert, ID: "x", Item: json.RawMessage(`{"type":"thread"}`)}
	if err := pa.Publish(context.Background(), bad); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := ids(b.Comments()); !equal(got, []string{th.ID}) {
		t.Fatalf("malformed change altered store: %v", got)
	}
}

func TestDisconnectedStoreQueuesChanges(t *testing.T) {
	a, b, _ := connectedPair(t)
	ctx := context.Background()

	if err := a.SetConnected(ctx, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	th := NewThread("offline")
	a.AddComment(th, nil, Append)
	if a.Pending() != 1 || len(b.Comments()) != 0 {
		t.Fatalf("expected queued change, pending=%d remote=%d", a.Pending(), len(b.Comments()))
	}

	if err := a.SetConnected(ctx, true); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if a.Pending() != 0 {
		t.Fatalf("queue not flushed: %d", a.Pending())
	}
	mustThread(t, b, th.ID)
}

type fakeProvider struct {
	connectFn func(context.Context) error
	publishFn func(context.Context, collab.Change) error
}

func (f *fakeProvider) Connect(ctx context.Context) error { return f.connectFn(ctx) }
func (f *fakeProvider) Disconnect() {}
func (f *fakeProvider) Publish(ctx context.Context, c collab.Change) error {
	return f.publishFn(ctx, c)
}
func (f *fakeProvider) Subscribe(collab.Handler) func()                  { return func() {} }
func (f *fakeProvider) History(context.Context) ([]collab.Change, error) { return nil, nil }
func (f *fakeProvider) Close() error                                     { return nil }

func TestUnavailableProviderFallsBackToLocal(t *testing.T) {
	down := errors.New("down")
	published := 0
	p := &fakeProvider{
		connectFn: func(context.Context) error { return down },
		publishFn: func(context.Context, collab.Change) error { published++; return nil },
	}
	s := NewStore()
	defer s.RegisterCollaboration(context.Background(), p)()

	th := NewThread("local")
	s.AddComment(th, nil, Append)
	mustThread(t, s, th.ID)
	if s.Connected() || s.Pending() != 1 || published != 0 {
		t.Fatalf("connected=%v pending=%d published=%d", s.Connected(), s.Pending(), published)
	}

	p.connectFn = func(context.Context) error { return nil }
	if err := s.SetConnected(context.Background(), true); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if published != 1 || s.Pending() != 0 {
		t.Fatalf("published=%d pending=%d", published, s.Pending())
	}
}
