package anchor

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"marginalia/internal/doc"
	"marginalia/internal/mark"
)

// Synchronizer keeps an Index in step with an editor's mark nodes.
type Synchronizer struct {
	editor *doc.Editor
	index  *Index
	log    *slog.Logger
}

func NewSynchronizer(e *doc.Editor, ix *Index, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Synchronizer{editor: e, index: ix, log: log}
}

// Start indexes the marks already in the document and follows every later
// commit touching marks. The returned function stops following.
func (s *Synchronizer) Start() func() {
	st := s.editor.State()
	seed := map[doc.NodeKey]doc.Mutation{}
	for _, key := range st.KeysOfKind(doc.KindMark) {
		seed[key] = doc.Created
	}
	s.Apply(st, seed)
	return s.editor.RegisterMutationListener(doc.KindMark, s.Apply)
}

// Apply reconciles the index with st for every key in batch. The reported
// kind of mutation is not trusted: a key that resolves to a live mark is
// re-read, anything else is dropped from the index.
func (s *Synchronizer) Apply(st *doc.State, batch map[doc.NodeKey]doc.Mutation) {
	for _, key := range slices.Sorted(maps.Keys(batch)) {
		n, ok := st.Node(key)
		if !ok || n.Kind() != doc.KindMark || !n.IsAttached() {
			s.index.evict(key)
			continue
		}
		ids := mark.IDs(n)
		if len(ids) > 0 {
			s.index.set(key, ids)
			continue
		}
		s.index.evict(key)
		s.log.Debug("unwrapping mark without ids", "key", key)
		s.editor.Defer(func(tx *doc.Txn) error {
			n, ok := tx.Node(key)
			if !ok || n.Kind() != doc.KindMark || len(mark.IDs(n)) > 0 {
				return nil
			}
			return mark.Unwrap(tx, key)
		}, doc.TagHistoryMerge)
	}
}

// Verify checks ix against a full scan of st: every ID of every live mark
// is indexed under that mark, and every indexed key is a live mark carrying
// the ID it is indexed under.
func Verify(st *doc.State, ix *Index) error {
	live := map[doc.NodeKey][]string{}
	for _, key := range st.KeysOfKind(doc.KindMark) {
		n, _ := st.Node(key)
		live[key] = mark.IDs(n)
	}
	snapshot := ix.Snapshot()
	for key, ids := range live {
		for _, id := range ids {
			if !slices.Contains(snapshot[id], key) {
				return fmt.Errorf("mark %d carries %q but is not indexed under it", key, id)
			}
		}
	}
	for id, keys := range snapshot {
		if len(keys) == 0 {
			return fmt.Errorf("id %q indexed with no marks", id)
		}
		for _, key := range keys {
			ids, ok := live[key]
			if !ok {
				return fmt.Errorf("id %q indexed under %d, which is not a live mark", id, key)
			}
			if !slices.Contains(ids, id) {
				return fmt.Errorf("id %q indexed under %d, which does not carry it", id, key)
			}
		}
	}
	return nil
}
