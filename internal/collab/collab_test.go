package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func change(origin, id string) Change {
	return Change{Origin: origin, Op: OpInsert, ID: id, Item: json.RawMessage(`{"id":"` + id + `","type":"thread"}`)}
}

func collect(p Provider) <-chan Change {
	ch := make(chan Change, 16)
	p.Subscribe(func(c Change) { ch <- c })
	return ch
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestDecodeRejectsMalformedChanges(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{`},
		{name: "missing id", raw: `{"op":"delete"}`},
		{name: "unknown op", raw: `{"op":"move","id":"x"}`},
		{name: "insert without item", raw: `{"op":"insert","id":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
	if _, err := Decode([]byte(`{"op":"delete","id":"x"}`)); err != nil {
		t.Fatalf("valid delete rejected: %v", err)
	}
}

func TestHubDeliversToChannelMembers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	factory := hub.Factory()
	a, _ := factory("doc-1", nil)
	b, _ := factory("doc-1", nil)
	other, _ := factory("doc-2", nil)
	for _, p := range []Provider{a, b, other} {
		if err := p.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	got := collect(b)
	stray := collect(other)

	if err := a.Publish(ctx, change("a", "t1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c := waitChange(t, got); c.ID != "t1" || c.Origin != "a" {
		t.Fatalf("unexpected change %+v", c)
	}
	select {
	case c := <-stray:
		t.Fatalf("other channel received %+v", c)
	default:
	}

	history, err := b.History(ctx)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v, %v", history, err)
	}

	a.Disconnect()
	if err := a.Publish(ctx, change("a", "t2")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRegistryReusesAndForgetsProviders(t *testing.T) {
	hub := NewHub()
	reg := NewRegistry()
	p1, err := Open(hub.Factory(), "doc", reg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p2, _ := Open(hub.Factory(), "doc", reg)
	if p1 != p2 {
		t.Fatal("expected the registered provider to be reused")
	}
	if err := p1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := reg.Get("doc"); ok {
		t.Fatal("closed provider still registered")
	}
	if err := p1.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRedisProviderPublishesAndKeepsHistory(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()
	client, err := DialRedis(ctx, "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	factory := NewRedisFactory(client, "test:", nil)
	a, _ := factory("doc-1", nil)
	b, _ := factory("doc-1", nil)
	defer a.Close()
	defer b.Close()
	for _, p := range []Provider{a, b} {
		if err := p.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	got := collect(b)

	if err := client.Publish(ctx, "test:doc-1", "not json").Err(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := a.Publish(ctx, change("a", "t1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c := waitChange(t, got); c.ID != "t1" {
		t.Fatalf("unexpected change %+v", c)
	}

	history, err := b.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != "t1" {
		t.Fatalf("history = %+v", history)
	}
}

func TestRedisProviderConnectFailsWhenServerIsDown(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	s.Close()

	p := NewRedisProvider(client, "", "doc", nil)
	p.retries = 0
	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if err := p.Publish(context.Background(), change("a", "t1")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRelayBridgesWebSocketClients(t *testing.T) {
	hub := NewHub()
	relay := NewRelay(hub.Factory(), nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.ServeChannel(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	defer srv.Close()

	ctx := context.Background()
	factory := NewWebSocketFactory("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	a, _ := factory("doc-1", nil)
	b, _ := factory("doc-1", nil)
	defer a.Close()
	defer b.Close()
	for _, p := range []Provider{a, b} {
		if err := p.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	got := collect(b)

	if err := a.Publish(ctx, change("a", "t1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c := waitChange(t, got); c.ID != "t1" {
		t.Fatalf("unexpected change %+v", c)
	}

	late, _ := factory("doc-1", nil)
	defer late.Close()
	if err := late.Connect(ctx); err != nil {
		t.Fatalf("late connect: %v", err)
	}
	history, err := late.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != "t1" {
		t.Fatalf("late client history = %+v", history)
	}
}
