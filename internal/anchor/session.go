package anchor

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"marginalia/internal/comments"
	"marginalia/internal/doc"
	"marginalia/internal/mark"
)

const (
	// CommandInsertInlineComment opens the comment input over the selection.
	CommandInsertInlineComment doc.Command = "INSERT_INLINE_COMMENT"
	// CommandToggleConnect takes a bool payload and connects or disconnects
	// comment collaboration.
	CommandToggleConnect doc.Command = "TOGGLE_CONNECT"
)

// ActiveState is what the selection currently activates.
type ActiveState struct {
	IDs            []string    `json:"ids"`
	AnchorKey      doc.NodeKey `json:"anchorKey,omitempty"`
	ShowAddComment bool        `json:"showAddComment"`
	InputOpen      bool        `json:"inputOpen"`
}

type commentInput struct {
	selection doc.Selection
	quote     string
}

// Session binds one editor to its comment store for as long as a document
// is open. Each session owns its index; nothing is shared between sessions.
type Session struct {
	editor   *doc.Editor
	store    *comments.Store
	index    *Index
	log      *slog.Logger
	onChange func(ActiveState)

	mu      sync.Mutex
	active  ActiveState
	input   *commentInput
	present map[string]struct{}
	// pending holds threads whose marks are written before the store has them.
	pending map[string]struct{}

	stop []func()
}

type SessionOption func(*Session)

func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithOnChange registers fn to receive the active state each time it is
// recomputed.
func WithOnChange(fn func(ActiveState)) SessionOption {
	return func(s *Session) { s.onChange = fn }
}

func NewSession(e *doc.Editor, store *comments.Store, opts ...SessionOption) *Session {
	s := &Session{
		editor:  e,
		store:   store,
		index:   NewIndex(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		present: topLevelIDs(store.Comments()),
		pending: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	syncer := NewSynchronizer(e, s.index, s.log)
	s.stop = append(s.stop,
		mark.Register(e),
		syncer.Start(),
		e.RegisterUpdateListener(s.onUpdate),
		store.Subscribe(s.onComments),
		e.RegisterCommand(CommandInsertInlineComment, func(any) bool {
			return s.OpenCommentInput() == nil
		}, doc.PriorityEditor),
		e.RegisterCommand(CommandToggleConnect, func(payload any) bool {
			connect, ok := payload.(bool)
			if !ok {
				return false
			}
			if err := store.SetConnected(context.Background(), connect); err != nil {
				s.log.Warn("toggle collaboration", "connect", connect, "error", err)
			}
			return true
		}, doc.PriorityEditor),
	)
	s.refresh(e.State())
	return s
}

// Close detaches the session from its editor.
func (s *Session) Close() {
	for i := len(s.stop) - 1; i >= 0; i-- {
		s.stop[i]()
	}
	s.stop = nil
}

func (s *Session) Editor() *doc.Editor    { return s.editor }
func (s *Session) Store() *comments.Store { return s.store }
func (s *Session) Index() *Index          { return s.index }

func (s *Session) onUpdate(u doc.UpdateInfo) {
	if !u.HasTag(doc.TagCollaboration) {
		prev, hadPrev := u.Prev.Selection()
		next, hasNext := u.State.Selection()
		if hadPrev != hasNext || prev != next {
			s.mu.Lock()
			s.input = nil
			s.mu.Unlock()
		}
	}
	if u.HasTag(doc.TagHistoric) || u.HasTag(doc.TagHistoryMerge) {
		s.stripOrphans(u.State, u.Dirty)
	}
	s.refresh(u.State)
}

// onComments strips the marks of every item that left the store, whether
// it was deleted here or by a collaborator.
func (s *Session) onComments(items []comments.Item) {
	next := topLevelIDs(items)
	var gone []string
	s.mu.Lock()
	for id := range s.present {
		if _, ok := next[id]; !ok {
			gone = append(gone, id)
		}
	}
	s.present = next
	s.mu.Unlock()

	slices.Sort(gone)
	for _, id := range gone {
		if s.index.Has(id) {
			s.log.Info("thread left the store, stripping marks", "thread", id)
			s.strip(id)
		}
	}
}

// stripOrphans looks at the marks an undo, a redo or an import brought in
// and strips IDs whose thread the store does not hold.
func (s *Session) stripOrphans(st *doc.State, dirty []doc.NodeKey) {
	var orphans []string
	for _, key := range dirty {
		n, ok := st.Node(key)
		if !ok || n.Kind() != doc.KindMark || !n.IsAttached() {
			continue
		}
		for _, id := range mark.IDs(n) {
			if !slices.Contains(orphans, id) && !s.known(id) {
				orphans = append(orphans, id)
			}
		}
	}
	for _, id := range orphans {
		s.log.Debug("stripping orphan thread id", "thread", id)
		s.strip(id)
	}
}

func (s *Session) known(id string) bool {
	s.mu.Lock()
	_, pending := s.pending[id]
	s.mu.Unlock()
	if pending {
		return true
	}
	return s.store.Has(id)
}

// strip schedules the removal of id from every mark carrying it. It stays
// out of the undo history and does nothing if the thread is back by the
// time it runs.
func (s *Session) strip(id string) {
	s.editor.Defer(func(tx *doc.Txn) error {
		if s.known(id) {
			return nil
		}
		return mark.RemoveID(tx, s.index.Keys(id), id)
	}, doc.TagHistoryMerge)
}

func topLevelIDs(items []comments.Item) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item.ItemID()] = struct{}{}
	}
	return out
}

func (s *Session) refresh(st *doc.State) {
	var next ActiveState
	sel, ok := st.Selection()
	if ok {
		if ids, found := mark.IDsAt(st, sel.Anchor); found {
			next.IDs = ids
		}
		if !sel.Collapsed() {
			next.AnchorKey = sel.Anchor.Key
		}
	}
	s.mu.Lock()
	next.InputOpen = s.input != nil
	next.ShowAddComment = ok && !sel.Collapsed() && !next.InputOpen
	s.active = next
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

func (s *Session) Active() ActiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.active
	a.IDs = slices.Clone(a.IDs)
	return a
}

func (s *Session) ActiveIDs() []string { return s.Active().IDs }

// MarkNodeMap is a copy of the ID to mark index.
func (s *Session) MarkNodeMap() map[string][]doc.NodeKey { return s.index.Snapshot() }

// SelectedMarkKeys lists the marks carrying any active ID.
func (s *Session) SelectedMarkKeys() []doc.NodeKey {
	var keys []doc.NodeKey
	for _, id := range s.ActiveIDs() {
		keys = append(keys, s.index.Keys(id)...)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// OpenCommentInput captures the current selection for a new thread.
func (s *Session) OpenCommentInput() error {
	st := s.editor.State()
	sel, ok := st.Selection()
	if !ok || sel.Collapsed() {
		return ErrEmptySelection
	}
	s.mu.Lock()
	s.input = &commentInput{selection: sel, quote: st.SelectedText(sel)}
	s.mu.Unlock()
	s.refresh(st)
	return nil
}

// CancelCommentInput dismisses the comment input without touching the
// document or the store.
func (s *Session) CancelCommentInput() {
	s.mu.Lock()
	s.input = nil
	s.mu.Unlock()
	s.refresh(s.editor.State())
}

// AddThread starts a thread with one comment over the captured selection,
// or the current one when no input is open, and marks the selected text
// with the thread ID.
func (s *Session) AddThread(author, content string) (comments.Thread, error) {
	if strings.TrimSpace(content) == "" {
		return comments.Thread{}, ErrEmptyComment
	}
	s.mu.Lock()
	input := s.input
	s.mu.Unlock()

	st := s.editor.State()
	if input == nil {
		sel, ok := st.Selection()
		if !ok || sel.Collapsed() {
			return comments.Thread{}, ErrEmptySelection
		}
		input = &commentInput{selection: sel, quote: st.SelectedText(sel)}
	}
	if input.selection.Collapsed() {
		return comments.Thread{}, ErrEmptySelection
	}

	thread := comments.NewThread(input.quote, comments.NewComment(content, author))
	s.mu.Lock()
	s.pending[thread.ID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, thread.ID)
		s.mu.Unlock()
	}()

	err := s.editor.Update(func(tx *doc.Txn) error {
		if err := tx.SetSelection(input.selection); err != nil {
			return err
		}
		return mark.WrapSelection(tx, thread.ID)
	})
	if err != nil {
		return comments.Thread{}, err
	}
	s.store.AddComment(thread, nil, comments.Append)
	s.log.Info("thread added", "thread", thread.ID, "marks", len(s.index.Keys(thread.ID)))

	s.CancelCommentInput()
	return thread, nil
}

func (s *Session) thread(id string) (comments.Thread, error) {
	t, ok := s.store.Thread(id)
	if !ok {
		return comments.Thread{}, ErrThreadNotFound
	}
	return t, nil
}

func (s *Session) Reply(threadID, author, content string) (comments.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return comments.Comment{}, ErrEmptyComment
	}
	t, err := s.thread(threadID)
	if err != nil {
		return comments.Comment{}, err
	}
	c := comments.NewComment(content, author)
	s.store.AddComment(c, &t, comments.Append)
	return c, nil
}

// DeleteComment tombstones a comment. The thread's marks are kept.
func (s *Session) DeleteComment(threadID, commentID string) (*comments.Deletion, error) {
	t, err := s.thread(threadID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(t.Comments, func(c comments.Comment) bool { return c.ID == commentID })
	if i < 0 {
		return nil, ErrCommentNotFound
	}
	d := s.store.DeleteCommentOrThread(t.Comments[i], &t)
	if d == nil {
		return nil, ErrCommentNotFound
	}
	return d, nil
}

// RestoreComment puts a deleted comment back where it was.
func (s *Session) RestoreComment(threadID string, d *comments.Deletion) error {
	c, ok := d.Comment()
	if !ok {
		return ErrCommentNotFound
	}
	t, err := s.thread(threadID)
	if err != nil {
		return err
	}
	s.store.AddComment(c, &t, d.Index)
	return nil
}

// DeleteThread removes the thread from the store, then strips its ID from
// the document in a separate update. Marks left without IDs are unwrapped.
// When the store no longer holds the thread only the marks are stripped and
// the returned deletion is nil.
func (s *Session) DeleteThread(threadID string) (*comments.Deletion, error) {
	var d *comments.Deletion
	if t, ok := s.store.Thread(threadID); ok {
		d = s.store.DeleteCommentOrThread(t, nil)
	}
	s.strip(threadID)
	return d, nil
}
