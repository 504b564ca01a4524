package search

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"

	"marginalia/internal/comments"
	"marginalia/internal/store"
)

type fakeEngine struct {
	healthy  bool
	searchFn func(Query) ([]Result, int, error)

	mu      sync.Mutex
	indexed []ThreadRecord
	deleted []string
}

func (f *fakeEngine) Healthy() bool { return f.healthy }
func (f *fakeEngine) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}
func (f *fakeEngine) IndexDocument(DocumentRecord) error { return nil }
func (f *fakeEngine) IndexThreads(threads []ThreadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, threads...)
	return nil
}
func (f *fakeEngine) DeleteThread(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSearcher struct {
	results []Result
	err     error
}

func (f fakeSearcher) Healthy() bool { return true }
func (f fakeSearcher) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func TestServiceFallsBack(t *testing.T) {
	primary := []Result{{Type: ResultThread, ID: "engine"}}
	secondary := []Result{{Type: ResultThread, ID: "fallback"}}

	tests := []struct {
		name     string
		engine   *fakeEngine
		fallback Searcher
		want     []string
	}{
		{
			name:     "healthy engine",
			engine:   &fakeEngine{healthy: true, searchFn: func(Query) ([]Result, int, error) { return primary, 1, nil }},
			fallback: fakeSearcher{results: secondary},
			want:     []string{"engine"},
		},
		{
			name:     "unhealthy engine",
			engine:   &fakeEngine{searchFn: func(Query) ([]Result, int, error) { return primary, 1, nil }},
			fallback: fakeSearcher{results: secondary},
			want:     []string{"fallback"},
		},
		{
			name:     "engine error",
			engine:   &fakeEngine{healthy: true, searchFn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("boom") }},
			fallback: fakeSearcher{results: secondary},
			want:     []string{"fallback"},
		},
		{
			name:     "both fail",
			engine:   &fakeEngine{healthy: true, searchFn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("boom") }},
			fallback: fakeSearcher{err: errors.New("down")},
			want:     []string{},
		},
		{
			name:   "no fallback",
			engine: &fakeEngine{searchFn: func(Query) ([]Result, int, error) { return primary, 1, nil }},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.engine, tt.fallback, nil)
			resp := svc.Search(context.Background(), Query{Text: "x"})
			got := []string{}
			for _, r := range resp.Results {
				got = append(got, r.ID)
			}
			if !reflect.DeepEqual(got, tt.want) || resp.Query != "x" {
				t.Fatalf("results = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceIndexesOnlyWhenHealthy(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, nil, nil)
	svc.IndexThread(ThreadRecord{ID: "t1"})
	svc.DeleteThread("t2")
	svc.Wait()
	if len(engine.indexed) != 1 || !reflect.DeepEqual(engine.deleted, []string{"t2"}) {
		t.Fatalf("indexed=%v deleted=%v", engine.indexed, engine.deleted)
	}

	engine.healthy = false
	svc.IndexThread(ThreadRecord{ID: "t3"})
	svc.Wait()
	if len(engine.indexed) != 1 {
		t.Fatalf("unhealthy engine was written to: %v", engine.indexed)
	}
}

func TestThreadRecordSkipsDeletedComments(t *testing.T) {
	th := comments.NewThread("the quote",
		comments.NewComment("first", "ann"),
		comments.NewComment("gone", "bob").Tombstone(),
		comments.NewComment("second", "ann"),
	)
	r := ThreadRecordFrom("doc", th)
	want := ThreadRecord{ID: th.ID, DocumentID: "doc", Quote: "the quote", Body: "first\nsecond", Authors: []string{"ann"}, Comments: 2}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("record = %+v, want %+v", r, want)
	}
	records := ThreadRecordsFrom("doc", []comments.Item{comments.NewComment("loose", "x"), th})
	if len(records) != 1 || records[0].ID != th.ID {
		t.Fatalf("records = %+v", records)
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"thr_1"`),
		"documentId": json.RawMessage(`"doc_1"`),
		"quote":      json.RawMessage(`"hello"`),
		"body":       json.RawMessage(`"plain body"`),
		"_formatted": json.RawMessage(`{"body":"<mark>plain</mark> body","comments":2}`),
	}
	got := hitToResult(hit, ResultThread)
	want := Result{Type: ResultThread, ID: "thr_1", Title: "hello", Snippet: "<mark>plain</mark> body", DocumentID: "doc_1"}
	if got != want {
		t.Fatalf("result = %+v, want %+v", got, want)
	}
}

func TestBoltScan(t *testing.T) {
	repo, err := store.NewBoltStore(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := repo.CreateDocument(ctx, store.Document{ID: id, Title: id, Content: json.RawMessage(`{}`)}); err != nil {
			t.Fatal(err)
		}
		th := comments.NewThread("quote "+id, comments.NewComment("shared word", "ann"))
		if err := repo.SaveComments(ctx, id, []comments.Item{th}); err != nil {
			t.Fatal(err)
		}
	}

	scan := NewBoltScan(repo)
	results, total, err := scan.Search(ctx, Query{Text: "shared"})
	if err != nil || total != 2 || len(results) != 2 {
		t.Fatalf("results = %+v total=%d err=%v", results, total, err)
	}
	results, total, _ = scan.Search(ctx, Query{Text: "shared", DocumentID: "b"})
	if total != 1 || results[0].DocumentID != "b" || results[0].Title != "quote b" {
		t.Fatalf("filtered = %+v", results)
	}
	results, total, _ = scan.Search(ctx, Query{Text: "shared", Limit: 1, Offset: 5})
	if total != 2 || len(results) != 0 {
		t.Fatalf("paged past end = %+v total=%d", results, total)
	}
}
