package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"marginalia/internal/comments"
)

// exerciseRepository runs the behavior every backend must share.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	created, err := repo.CreateDocument(ctx, Document{
		ID:        "doc-1",
		Title:     "Launch plan",
		Content:   json.RawMessage(`{"type":"root","children":[]}`),
		UpdatedBy: "ann",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 || created.CreatedAt.IsZero() {
		t.Fatalf("created = %+v", created)
	}
	if _, err := repo.CreateDocument(ctx, Document{ID: "doc-1", Title: "again", Content: json.RawMessage(`{}`)}); !errors.Is(err, ErrDocumentExists) {
		t.Fatalf("duplicate create err = %v", err)
	}

	got, err := repo.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Launch plan" || got.Version != 1 {
		t.Fatalf("got = %+v", got)
	}
	var content map[string]any
	if err := json.Unmarshal(got.Content, &content); err != nil || content["type"] != "root" {
		t.Fatalf("content = %s (%v)", got.Content, err)
	}
	if _, err := repo.GetDocument(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("missing get err = %v", err)
	}

	got.Title = "Launch plan v2"
	saved, err := repo.SaveDocument(ctx, got)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("saved version = %d", saved.Version)
	}
	if _, err := repo.SaveDocument(ctx, got); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save err = %v", err)
	}
	if _, err := repo.SaveDocument(ctx, Document{ID: "missing", Content: json.RawMessage(`{}`)}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("missing save err = %v", err)
	}

	list, err := repo.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Launch plan v2" {
		t.Fatalf("list = %+v", list)
	}

	empty, err := repo.LoadComments(ctx, "doc-1")
	if err != nil || len(empty) != 0 {
		t.Fatalf("initial comments = %v (%v)", empty, err)
	}

	first := comments.NewComment("looks good", "bob")
	gone := comments.NewComment("typo", "cy").Tombstone()
	th := comments.NewThread("launch", first, gone)
	other := comments.NewThread("plan")
	if err := repo.SaveComments(ctx, "doc-1", []comments.Item{other, th}); err != nil {
		t.Fatalf("save comments: %v", err)
	}
	if err := repo.SaveComments(ctx, "doc-1", []comments.Item{th, other}); err != nil {
		t.Fatalf("replace comments: %v", err)
	}
	items, err := repo.LoadComments(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load comments: %v", err)
	}
	if len(items) != 2 || items[0].ItemID() != th.ID || items[1].ItemID() != other.ID {
		t.Fatalf("items = %+v", items)
	}
	loaded := items[0].(comments.Thread)
	if len(loaded.Comments) != 2 || !loaded.Comments[1].Deleted || loaded.Comments[0].Content != "looks good" {
		t.Fatalf("loaded thread = %+v", loaded)
	}
	if err := repo.SaveComments(ctx, "missing", nil); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("comments for missing doc err = %v", err)
	}

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestBoltRepository(t *testing.T) {
	repo, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "marginalia.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestBoltReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marginalia.db")
	repo, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := repo.CreateDocument(ctx, Document{ID: "d", Title: "t", Content: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	th := comments.NewThread("needle in text", comments.NewComment("find the haystack", "ann"))
	if err := repo.SaveComments(ctx, "d", []comments.Item{th}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}

	repo, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	items, err := repo.LoadComments(ctx, "d")
	if err != nil || len(items) != 1 {
		t.Fatalf("items = %v (%v)", items, err)
	}
	hits, err := repo.SearchThreads(ctx, "HAYSTACK", 10)
	if err != nil || len(hits) != 1 || hits[0].DocumentID != "d" || hits[0].Quote != "needle in text" {
		t.Fatalf("hits = %+v (%v)", hits, err)
	}
}

func TestNewBoltStoreRequiresPath(t *testing.T) {
	if _, err := NewBoltStore("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty database url")
	}
}
