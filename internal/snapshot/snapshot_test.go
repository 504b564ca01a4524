package snapshot

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func content(title, comments string) Content {
	return Content{
		Title:    title,
		Document: json.RawMessage(`{"type":"root","children":[{"type":"paragraph","children":[{"type":"text","text":"hello"}]}]}`),
		Comments: json.RawMessage(comments),
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	first, committed, err := svc.Save("doc-1", content("Plan", `[]`), "Avery Q", "create")
	if err != nil || !committed {
		t.Fatalf("first save committed=%v err=%v", committed, err)
	}
	if !reflect.DeepEqual(first.Changed, []string{"title", "document", "comments"}) || first.Author != "Avery Q" {
		t.Fatalf("first = %+v", first)
	}

	same, committed, err := svc.Save("doc-1", content("Plan", ` [ ] `), "Avery Q", "noop")
	if err != nil || committed || same.Hash != first.Hash {
		t.Fatalf("unchanged save = %+v committed=%v err=%v", same, committed, err)
	}

	second, committed, err := svc.Save("doc-1", content("Plan", `[{"id":"thr_1","type":"thread","quote":"hello","comments":[]}]`), "Blair", "add thread")
	if err != nil || !committed {
		t.Fatalf("second save committed=%v err=%v", committed, err)
	}
	if !reflect.DeepEqual(second.Changed, []string{"comments"}) {
		t.Fatalf("changed = %v", second.Changed)
	}

	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history = %+v", history)
	}
	if limited, _ := svc.History("doc-1", 1); len(limited) != 1 {
		t.Fatalf("limited history = %+v", limited)
	}

	old, err := svc.At("doc-1", first.Hash)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if changed := Changed(old, content("Plan", `[]`)); len(changed) != 0 {
		t.Fatalf("snapshot content differs in %v: %+v", changed, old)
	}

	if err := svc.Tag("doc-1", second.Hash, "v1"); err != nil {
		t.Fatalf("tag: %v", err)
	}
	if err := svc.Tag("doc-1", second.Hash, "v1"); err != nil {
		t.Fatalf("retag: %v", err)
	}
}

func TestHistoryOfUnknownDocument(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("nope", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.At("nope", "abc1234"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v", err)
	}
}

func TestConcurrentSavesAreSerializedPerDocument(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := string(rune('A' + i))
			if _, _, err := svc.Save("doc-c", content(title, `[]`), "bot", "save "+title); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("save: %v", err)
	}
	history, err := svc.History("doc-c", 0)
	if err != nil || len(history) != 8 {
		t.Fatalf("history = %d entries, err = %v", len(history), err)
	}
}

func TestSanitizeEmail(t *testing.T) {
	tests := map[string]string{"Avery Q": "Avery.Q", "a_b-c": "a.b.c", "!!!": "user"}
	for in, want := range tests {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
