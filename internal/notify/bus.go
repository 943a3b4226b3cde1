package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/HendryAvila/plotline/internal/logging"
)

// Bus carries events between publishers and the forwarder that feeds the
// local hub.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	StartForwarder(ctx context.Context, onEvent func(Event)) error
	Close() error
}

// ─── Local bus ───────────────────────────────────────────────────────────────

// LocalBus delivers events in-process.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.handlers {
		fn(ev)
	}
	return nil
}

func (b *LocalBus) StartForwarder(_ context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return errors.New("notify: forwarder callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, onEvent)
	return nil
}

func (b *LocalBus) Close() error { return nil }

// ─── Redis bus ───────────────────────────────────────────────────────────────

// RedisConfig points a RedisBus at a server and channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// DefaultRedisChannel is used when RedisConfig.Channel is empty.
const DefaultRedisChannel = "plotline:events"

// RedisBus fans events out through Redis Pub/Sub.
type RedisBus struct {
	log     *logging.Logger
	rdb     *goredis.Client
	channel string
	wg      sync.WaitGroup
}

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, cfg RedisConfig, log *logging.Logger) (*RedisBus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("notify: redis address required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify: redis ping: %w", err)
	}
	return &RedisBus{
		log:     logging.OrNop(log).Named("redis-bus"),
		rdb:     rdb,
		channel: cfg.Channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encoding event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and calls onEvent for every message until ctx
// ends. It returns once the subscription is confirmed.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return errors.New("notify: forwarder callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("notify: redis subscribe: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad event payload on redis", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close closes the client and waits for forwarders to stop.
func (b *RedisBus) Close() error {
	err := b.rdb.Close()
	b.wg.Wait()
	return err
}
