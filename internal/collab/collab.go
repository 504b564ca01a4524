// Package collab carries comment changes between editors sharing a document.
//
// A Provider publishes and receives Changes on one named channel. The comment
// store mirrors every local operation as a Change and replays the Changes of
// other origins; what a provider does to move them (process memory, Redis,
// a websocket relay) is its own business.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed indicates use of a provider after Close.
	ErrClosed = errors.New("provider closed")

	// ErrNotConnected indicates a publish while the provider is disconnected.
	ErrNotConnected = errors.New("provider not connected")

	// ErrMalformed indicates a change payload that could not be decoded.
	ErrMalformed = errors.New("malformed change")
)

// Op is the kind of edit a Change applies to the shared comment collection.
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
)

// Change is one edit of the shared collection. ThreadID is empty for
// top-level items. Targets are addressed by ID; Index only positions inserts.
type Change struct {
	Origin   string          `json:"origin"`
	Op       Op              `json:"op"`
	ThreadID string          `json:"threadId,omitempty"`
	ID       string          `json:"id"`
	Index    int             `json:"index"`
	Item     json.RawMessage `json:"item,omitempty"`
}

// Validate reports whether c is well formed.
func (c Change) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	switch c.Op {
	case OpInsert, OpReplace:
		if len(c.Item) == 0 {
			return fmt.Errorf("%w: %s without item", ErrMalformed, c.Op)
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformed, c.Op)
	}
	return nil
}

// Decode parses and validates a wire payload.
func Decode(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.Validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}

// Handler receives changes published on a provider's channel, including the
// subscriber's own.
type Handler func(Change)

// Provider is a connection to one shared channel.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(ctx context.Context, c Change) error
	Subscribe(h Handler) (unsubscribe func())
	// History returns every change published on the channel so far, oldest first.
	History(ctx context.Context) ([]Change, error)
	Close() error
}

// Factory opens a provider for channel, recording it in registry.
type Factory func(channel string, registry *Registry) (Provider, error)

// Registry tracks the live providers of a process by channel.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

func (r *Registry) Get(channel string) (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[channel]
	return p, ok
}

func (r *Registry) Put(channel string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[channel] = p
}

func (r *Registry) Remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, channel)
}

func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.providers))
	for ch := range r.providers {
		out = append(out, ch)
	}
	return out
}

// Open returns the registered provider for channel, creating it with f when
// there is none.
func Open(f Factory, channel string, registry *Registry) (Provider, error) {
	if registry == nil {
		return f(channel, nil)
	}
	if p, ok := registry.Get(channel); ok {
		return p, nil
	}
	p, err := f(channel, registry)
	if err != nil {
		return nil, err
	}
	registry.Put(channel, p)
	return p, nil
}

// subscribers is the handler list shared by the provider implementations.
type subscribers struct {
	mu   sync.RWMutex
	seq  int
	list map[int]Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		s.list = map[int]Handler{}
	}
	s.seq++
	id := s.seq
	s.list[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.list, id)
	}
}

func (s *subscribers) emit(c Change) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.list))
	for _, h := range s.list {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(c)
	}
}
