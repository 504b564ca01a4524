package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	frameSync   = "sync"
	frameChange = "change"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// frame is what the relay sends to websocket clients. Clients send bare
// Change values.
type frame struct {
	Type    string   `json:"type"`
	Changes []Change `json:"changes,omitempty"`
	Change  *Change  `json:"change,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay bridges websocket clients onto backend providers, one backend per
// channel. A new client first receives the channel history in a sync frame.
type Relay struct {
	backend  Factory
	registry *Registry
	log      *slog.Logger
}

func NewRelay(backend Factory, registry *Registry, log *slog.Logger) *Relay {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{backend: backend, registry: registry, log: log}
}

type relayClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ServeChannel upgrades the request and relays changes for channel until the
// client goes away.
func (r *Relay) ServeChannel(w http.ResponseWriter, req *http.Request, channel string) {
	log := r.log.With("channel", channel)
	backend, err := Open(r.backend, channel, r.registry)
	if err != nil {
		http.Error(w, "collaboration backend unavailable", http.StatusServiceUnavailable)
		log.Error("open backend", "error", err)
		return
	}
	if err := backend.Connect(req.Context()); err != nil {
		http.Error(w, "collaboration backend unavailable", http.StatusServiceUnavailable)
		log.Error("connect backend", "error", err)
		return
	}
	history, err := backend.History(req.Context())
	if err != nil {
		http.Error(w, "collaboration backend unavailable", http.StatusServiceUnavailable)
		log.Error("read history", "error", err)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn("upgrade", "error", err)
		return
	}
	client := &relayClient{conn: conn, send: make(chan []byte, 256)}
	hello, _ := json.Marshal(frame{Type: frameSync, Changes: history})
	client.send <- hello

	var once sync.Once
	stop := func() { once.Do(func() { close(client.send) }) }
	var sendMu sync.Mutex
	closed := false
	unsubscribe := backend.Subscribe(func(c Change) {
		data, err := json.Marshal(frame{Type: frameChange, Change: &c})
		if err != nil {
			return
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed {
			return
		}
		select {
		case client.send <- data:
		default:
			log.Warn("client too slow, dropping connection")
			closed = true
			stop()
		}
	})

	go client.writePump()
	client.readPump(req.Context(), backend, log)

	unsubscribe()
	sendMu.Lock()
	closed = true
	stop()
	sendMu.Unlock()
}

func (c *relayClient) readPump(ctx context.Context, backend Provider, log *slog.Logger) {
	defer c.conn.Close()
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		change, err := Decode(message)
		if err != nil {
			log.Warn("dropping malformed change", "error", err)
			continue
		}
		if err := backend.Publish(ctx, change); err != nil {
			log.Warn("publish change", "error", err)
		}
	}
}

func (c *relayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketProvider talks to a Relay. History is the snapshot the relay sent
// when the connection was made.
type WebSocketProvider struct {
	url      string
	name     string
	registry *Registry
	log      *slog.Logger
	subs     subscribers
	retries  uint64

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	history []Change
	closed  bool
}

// NewWebSocketFactory returns a factory dialing baseURL + "/" + channel.
func NewWebSocketFactory(baseURL string, log *slog.Logger) Factory {
	return func(channel string, registry *Registry) (Provider, error) {
		p := NewWebSocketProvider(strings.TrimRight(baseURL, "/")+"/"+channel, log)
		p.name = channel
		p.registry = registry
		return p, nil
	}
}

func NewWebSocketProvider(url string, log *slog.Logger) *WebSocketProvider {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebSocketProvider{url: url, name: url, log: log.With("url", url), retries: 5}
}

// Connect dials the relay with exponential backoff and waits for its sync frame.
func (p *WebSocketProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.conn != nil {
		return nil
	}

	var conn *websocket.Conn
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	err := backoff.Retry(func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	var first frame
	if err := conn.ReadJSON(&first); err != nil || first.Type != frameSync {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("%w: expected sync frame, got %q", ErrMalformed, first.Type)
		}
		return fmt.Errorf("sync with relay: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	p.conn = conn
	p.history = first.Changes
	p.done = make(chan struct{})
	go p.readLoop(conn, p.done)
	return nil
}

func (p *WebSocketProvider) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != frameChange || f.Change == nil {
			p.log.Warn("dropping malformed frame")
			continue
		}
		if err := f.Change.Validate(); err != nil {
			p.log.Warn("dropping malformed change", "error", err)
			continue
		}
		p.subs.emit(*f.Change)
	}
}

func (p *WebSocketProvider) Disconnect() {
	p.mu.Lock()
	conn, done := p.conn, p.done
	p.conn, p.done = nil, nil
	p.mu.Unlock()
	if conn == nil {
		return
	}
	p.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	p.writeMu.Unlock()
	conn.Close()
	<-done
}

func (p *WebSocketProvider) Publish(_ context.Context, c Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(c); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (p *WebSocketProvider) Subscribe(h Handler) func() { return p.subs.add(h) }

func (p *WebSocketProvider) History(context.Context) ([]Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	return slices.Clone(p.history), nil
}

func (p *WebSocketProvider) Close() error {
	p.Disconnect()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.registry != nil {
		p.registry.Remove(p.name)
	}
	return nil
}
