package comments

import (
	"context"
	"errors"
	"slices"

	"marginalia/internal/collab"
)

// ErrNoProvider indicates a connection toggle on a store without collaboration.
var ErrNoProvider = errors.New("no collaboration provider registered")

// RegisterCollaboration mirrors every local mutation to p and replays the
// changes of other origins into the store. When p cannot connect the store
// keeps working locally and queues its changes until SetConnected succeeds.
// The returned function detaches the store from p.
func (s *Store) RegisterCollaboration(ctx context.Context, p collab.Provider) func() {
	unsubscribe := p.Subscribe(func(c collab.Change) {
		s.seen.Add(1)
		s.applyRemote(c)
	})
	s.pubMu.Lock()
	s.provider = p
	s.pubMu.Unlock()

	_ = s.SetConnected(ctx, true)

	return func() {
		unsubscribe()
		s.pubMu.Lock()
		prev := s.provider
		s.provider = nil
		s.connected = false
		s.pending = nil
		s.pubMu.Unlock()
		s.seen.Store(0)
		if prev != nil {
			prev.Disconnect()
		}
	}
}

// SetConnected connects or disconnects the registered provider. On connect
// the channel history is replayed and queued local changes are published.
func (s *Store) SetConnected(ctx context.Context, connect bool) error {
	s.pubMu.Lock()
	p := s.provider
	s.pubMu.Unlock()
	if p == nil {
		return ErrNoProvider
	}

	if !connect {
		p.Disconnect()
		s.pubMu.Lock()
		s.connected = false
		s.pubMu.Unlock()
		s.log.Info("comments disconnected")
		return nil
	}

	if err := p.Connect(ctx); err != nil {
		s.log.Warn("collaboration unavailable, continuing locally", "error", err)
		return err
	}
	history, err := p.History(ctx)
	if err != nil {
		s.log.Warn("read collaboration history", "error", err)
	}
	from := min(int(s.seen.Load()), len(history))
	for _, c := range history[from:] {
		s.applyRemote(c)
	}
	if n := int64(len(history)); s.seen.Load() < n {
		s.seen.Store(n)
	}

	s.pubMu.Lock()
	s.connected = true
	s.flushLocked(ctx)
	s.pubMu.Unlock()
	s.log.Info("comments connected", "replayed", len(history)-from)
	return nil
}

// Connected reports whether local changes are currently being published.
func (s *Store) Connected() bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	return s.provider != nil && s.connected
}

// Pending is the number of local changes waiting to be published.
func (s *Store) Pending() int {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	return len(s.pending)
}

func (s *Store) mirror(c collab.Change) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.provider == nil {
		return
	}
	s.pending = append(s.pending, c)
	if s.connected {
		s.flushLocked(context.Background())
	}
}

func (s *Store) flushLocked(ctx context.Context) {
	for len(s.pending) > 0 {
		if err := s.provider.Publish(ctx, s.pending[0]); err != nil {
			s.log.Warn("publish comment change, keeping it queued", "error", err, "queued", len(s.pending))
			return
		}
		s.pending = s.pending[1:]
	}
}

// applyRemote replays a change from another origin as a local operation.
func (s *Store) applyRemote(c collab.Change) {
	if c.Origin == s.origin {
		return
	}
	if err := c.Validate(); err != nil {
		s.log.Warn("dropping remote change", "error", err)
		return
	}

	s.mu.Lock()
	changed := false
	switch c.Op {
	case collab.OpInsert, collab.OpReplace:
		item, err := DecodeItem(c.Item)
		if err != nil {
			s.mu.Unlock()
			s.log.Warn("dropping remote change", "id", c.ID, "error", err)
			return
		}
		_, changed = s.addLocked(item, c.ThreadID, c.Index)
	case collab.OpDelete:
		if c.ThreadID == "" {
			d, _ := s.removeLocked(c.ID)
			changed = d != nil
		} else {
			changed = s.dropCommentLocked(c.ThreadID, c.ID)
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Store) dropCommentLocked(threadID, commentID string) bool {
	ti := s.indexLocked(threadID)
	if ti < 0 {
		return false
	}
	t, ok := s.items[ti].(Thread)
	if !ok {
		return false
	}
	ci := slices.IndexFunc(t.Comments, func(c Comment) bool { return c.ID == commentID })
	if ci < 0 {
		return false
	}
	t = t.clone().(Thread)
	t.Comments = slices.Delete(t.Comments, ci, ci+1)
	s.items[ti] = t
	return true
}
