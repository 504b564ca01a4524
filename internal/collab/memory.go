package collab

import (
	"context"
	"slices"
	"sync"
)

// Hub is an in-process channel bus. Every provider it hands out for a channel
// sees the changes published by the others, in publish order.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*hubChannel
}

type hubChannel struct {
	log     []Change
	members map[*MemoryProvider]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: map[string]*hubChannel{}}
}

// Factory returns a provider factory backed by the hub.
func (h *Hub) Factory() Factory {
	return func(channel string, registry *Registry) (Provider, error) {
		return &MemoryProvider{hub: h, channel: channel, registry: registry}, nil
	}
}

func (h *Hub) channel(name string) *hubChannel {
	ch, ok := h.channels[name]
	if !ok {
		ch = &hubChannel{members: map[*MemoryProvider]struct{}{}}
		h.channels[name] = ch
	}
	return ch
}

func (h *Hub) join(p *MemoryProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channel(p.channel).members[p] = struct{}{}
}

func (h *Hub) leave(p *MemoryProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channel(p.channel).members, p)
}

func (h *Hub) broadcast(channel string, c Change) {
	h.mu.Lock()
	ch := h.channel(channel)
	ch.log = append(ch.log, c)
	members := make([]*MemoryProvider, 0, len(ch.members))
	for m := range ch.members {
		members = append(members, m)
	}
	h.mu.Unlock()
	for _, m := range members {
		m.subs.emit(c)
	}
}

func (h *Hub) history(channel string) []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.channel(channel).log)
}

// MemoryProvider is a Hub member.
type MemoryProvider struct {
	hub      *Hub
	channel  string
	registry *Registry
	subs     subscribers

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (p *MemoryProvider) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.connected {
		p.hub.join(p)
		p.connected = true
	}
	return nil
}

func (p *MemoryProvider) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.hub.leave(p)
		p.connected = false
	}
}

func (p *MemoryProvider) Publish(_ context.Context, c Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	ok := p.connected
	p.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	p.hub.broadcast(p.channel, c)
	return nil
}

func (p *MemoryProvider) Subscribe(h Handler) func() { return p.subs.add(h) }

func (p *MemoryProvider) History(context.Context) ([]Change, error) {
	p.mu.Lock()
	ok := p.connected
	p.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}
	return p.hub.history(p.channel), nil
}

func (p *MemoryProvider) Close() error {
	p.Disconnect()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.registry != nil {
		p.registry.Remove(p.channel)
	}
	return nil
}
