// Package comments holds the ordered collection of comments and threads of
// one document and keeps it in step with other editors of that document.
package comments

import (
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"marginalia/internal/collab"
	"marginalia/internal/util"
)

// Append as an index means "at the end".
const Append = -1

// Deletion reports what DeleteCommentOrThread removed: the value as it was
// and its position, so that AddComment(d.Item, thread, d.Index) undoes it.
type Deletion struct {
	Item  Item
	Index int
}

// Comment returns the deleted comment when the deletion was of a comment.
func (d *Deletion) Comment() (Comment, bool) {
	if d == nil {
		return Comment{}, false
	}
	c, ok := d.Item.(Comment)
	return c, ok
}

// Store is the single source of truth for a document's comments. Every
// mutation notifies subscribers synchronously with the full collection.
// Operations on IDs that do not exist are no-ops.
type Store struct {
	mu     sync.Mutex
	items  []Item
	subs   map[int]func([]Item)
	seq    int
	origin string
	log    *slog.Logger

	pubMu     sync.Mutex
	provider  collab.Provider
	connected bool
	pending   []collab.Change
	// seen counts the channel changes already reflected here, so a
	// reconnect only replays the ones missed while away.
	seen atomic.Int64
}

type Option func(*Store)

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithOrigin sets the origin stamped on published changes.
func WithOrigin(origin string) Option {
	return func(s *Store) { s.origin = origin }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		subs:   map[int]func([]Item){},
		origin: util.NewID("client"),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Origin() string { return s.origin }

// Comments returns a copy of the collection.
func (s *Store) Comments() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Item {
	out := make([]Item, len(s.items))
	for i, item := range s.items {
		out[i] = item.clone()
	}
	return out
}

// Thread looks up a top-level thread.
func (s *Store) Thread(id string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		if t, ok := s.items[i].(Thread); ok {
			return t.clone().(Thread), true
		}
	}
	return Thread{}, false
}

// Has reports whether a top-level item with id is present.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(id) >= 0
}

// Load replaces the collection, for example with persisted data. Nothing is
// mirrored to collaborators.
func (s *Store) Load(items []Item) {
	s.mu.Lock()
	s.items = s.items[:0]
	for _, item := range items {
		s.items = append(s.items, item.clone())
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
}

// Subscribe registers fn to receive the collection after every change.
func (s *Store) Subscribe(fn func([]Item)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(snapshot []Item) {
	s.mu.Lock()
	subs := make([]func([]Item), 0, len(s.subs))
	for _, id := range sortedKeys(s.subs) {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// AddComment inserts item at index (or appends for Append). With a nil
// thread it goes into the top-level collection; otherwise item must be a
// Comment and goes into that thread. An item whose ID is already present at
// that level replaces the existing entry in place.
func (s *Store) AddComment(item Item, thread *Thread, index int) {
	threadID := ""
	if thread != nil {
		threadID = thread.ID
	}
	s.mu.Lock()
	change, ok := s.addLocked(item, threadID, index)
	if !ok {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
	s.mirror(change)
}

// DeleteCommentOrThread tombstones a comment of thread in place or, with a
// nil thread, removes a top-level item. It returns what was removed and
// where, or nil when there was nothing to delete.
func (s *Store) DeleteCommentOrThread(item Item, thread *Thread) *Deletion {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	var (
		deletion *Deletion
		change   collab.Change
	)
	if thread != nil {
		deletion, change = s.tombstoneLocked(thread.ID, item.ItemID())
	} else {
		deletion, change = s.removeLocked(item.ItemID())
	}
	if deletion == nil {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
	s.mirror(change)
	return deletion
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(it Item) bool { return it.ItemID() == id })
}

func (s *Store) addLocked(item Item, threadID string, index int) (collab.Change, bool) {
	if item == nil || item.ItemID() == "" {
		return collab.Change{}, false
	}
	data, err := json.Marshal(item)
	if err != nil {
		s.log.Warn("encode comment", "error", err)
		return collab.Change{}, false
	}
	change := collab.Change{Origin: s.origin, ThreadID: threadID, ID: item.ItemID(), Item: data}

	if threadID == "" {
		if i := s.indexLocked(item.ItemID()); i >= 0 {
			s.items[i] = item.clone()
			change.Op, change.Index = collab.OpReplace, i
			return change, true
		}
		at := clampIndex(index, len(s.items))
		s.items = slices.Insert(s.items, at, item.clone())
		change.Op, change.Index = collab.OpInsert, at
		return change, true
	}

	comment, ok := item.(Comment)
	if !ok {
		return collab.Change{}, false
	}
	ti := s.indexLocked(threadID)
	if ti < 0 {
		return collab.Change{}, false
	}
	t, ok := s.items[ti].(Thread)
	if !ok {
		return collab.Change{}, false
	}
	t = t.clone().(Thread)
	if ci := slices.IndexFunc(t.Comments, func(c Comment) bool { return c.ID == comment.ID }); ci >= 0 {
		t.Comments[ci] = comment
		change.Op, change.Index = collab.OpReplace, ci
	} else {
		at := clampIndex(index, len(t.Comments))
		t.Comments = slices.Insert(t.Comments, at, comment)
		change.Op, change.Index = collab.OpInsert, at
	}
	s.items[ti] = t
	return change, true
}

func (s *Store) tombstoneLocked(threadID, commentID string) (*Deletion, collab.Change) {
	ti := s.indexLocked(threadID)
	if ti < 0 {
		return nil, collab.Change{}
	}
	t, ok := s.items[ti].(Thread)
	if !ok {
		return nil, collab.Change{}
	}
	ci := slices.IndexFunc(t.Comments, func(c Comment) bool { return c.ID == commentID })
	if ci < 0 || t.Comments[ci].Deleted {
		return nil, collab.Change{}
	}
	t = t.clone().(Thread)
	original := t.Comments[ci]
	tomb := original.Tombstone()
	t.Comments[ci] = tomb
	s.items[ti] = t

	data, _ := json.Marshal(tomb)
	change := collab.Change{Origin: s.origin, Op: collab.OpReplace, ThreadID: threadID, ID: commentID, Index: ci, Item: data}
	return &Deletion{Item: original, Index: ci}, change
}

func (s *Store) removeLocked(id string) (*Deletion, collab.Change) {
	i := s.indexLocked(id)
	if i < 0 {
		return nil, collab.Change{}
	}
	removed := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	change := collab.Change{Origin: s.origin, Op: collab.OpDelete, ID: id, Index: i}
	return &Deletion{Item: removed.clone(), Index: i}, change
}

func clampIndex(index, n int) int {
	if index < 0 || index > n {
		return n
	}
	return index
}

func sortedKeys(m map[int]func([]Item)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
