package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "marginalia:comments:"

// DialRedis parses redisURL and checks the connection.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisProvider publishes changes on a Redis pub/sub channel and appends
// them to a Redis list that serves as the channel history.
type RedisProvider struct {
	client   *redis.Client
	channel  string
	name     string
	registry *Registry
	log      *slog.Logger
	subs     subscribers
	retries  uint64

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	closed bool
}

// NewRedisFactory returns a factory whose providers share client. Keys are
// namespaced with prefix.
func NewRedisFactory(client *redis.Client, prefix string, log *slog.Logger) Factory {
	return func(channel string, registry *Registry) (Provider, error) {
		p := NewRedisProvider(client, prefix, channel, log)
		p.registry = registry
		return p, nil
	}
}

func NewRedisProvider(client *redis.Client, prefix, channel string, log *slog.Logger) *RedisProvider {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisProvider{
		client:  client,
		channel: prefix + channel,
		name:    channel,
		log:     log.With("channel", channel),
		retries: 5,
	}
}

func (p *RedisProvider) logKey() string { return p.channel + ":log" }

// Connect pings Redis with exponential backoff and subscribes to the channel.
func (p *RedisProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.pubsub != nil {
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	err := backoff.Retry(func() error {
		return p.client.Ping(ctx).Err()
	}, policy)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	ps := p.client.Subscribe(ctx, p.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}
	p.pubsub = ps
	p.done = make(chan struct{})
	go p.listen(ps, p.done)
	return nil
}

func (p *RedisProvider) listen(ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range ps.Channel() {
		c, err := Decode([]byte(msg.Payload))
		if err != nil {
			p.log.Warn("dropping malformed change", "error", err)
			continue
		}
		p.subs.emit(c)
	}
}

func (p *RedisProvider) Disconnect() {
	p.mu.Lock()
	ps, done := p.pubsub, p.done
	p.pubsub, p.done = nil, nil
	p.mu.Unlock()
	if ps == nil {
		return
	}
	if err := ps.Close(); err != nil {
		p.log.Warn("close subscription", "error", err)
	}
	<-done
}

// Publish appends c to the history list and publishes it in one pipeline.
func (p *RedisProvider) Publish(ctx context.Context, c Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	connected := p.pubsub != nil
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, p.logKey(), data)
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (p *RedisProvider) Subscribe(h Handler) func() { return p.subs.add(h) }

func (p *RedisProvider) History(ctx context.Context) ([]Change, error) {
	raw, err := p.client.LRange(ctx, p.logKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Change, 0, len(raw))
	for _, item := range raw {
		c, err := Decode([]byte(item))
		if err != nil {
			p.log.Warn("skipping malformed history entry", "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Close unsubscribes. The shared client stays open.
func (p *RedisProvider) Close() error {
	p.Disconnect()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.registry != nil {
		p.registry.Remove(p.name)
	}
	return nil
}
