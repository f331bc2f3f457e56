// Package redis carries signals over Redis pub/sub, one channel per user.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "yacall:signal:"

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	DialTimeout time.Duration
	PingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Prefix == "" {
		out.Prefix = DefaultPrefix
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Open creates a client and checks connectivity with PING.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func ChannelName(prefix string, user domain.UserID) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + user.String()
}

// Channel implements port.SignalingChannel. Pub/sub gives exactly the
// delivery the call service expects: at most once, nothing stored for
// users that are not subscribed.
type Channel struct {
	rdb    *redis.Client
	user   domain.UserID
	prefix string
	pubsub *redis.PubSub
	l      zerolog.Logger

	mu      sync.RWMutex
	handler func(domain.Signal)

	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe listens on the user's channel. It returns once Redis has
// confirmed the subscription.
func Subscribe(ctx context.Context, rdb *redis.Client, user domain.UserID, prefix string) (*Channel, error) {
	if user.IsZero() {
		return nil, fmt.Errorf("signaling user id is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	ps := rdb.Subscribe(ctx, ChannelName(prefix, user))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChannelName(prefix, user), err)
	}

	c := &Channel{
		rdb:    rdb,
		user:   user,
		prefix: prefix,
		pubsub: ps,
		l:      log.With().Str("component", "signaling_redis").Str("user_id", user.String()).Logger(),
		done:   make(chan struct{}),
	}
	go c.run(ps.Channel())
	return c, nil
}

func (c *Channel) run(ch <-chan *redis.Message) {
	defer close(c.done)
	for msg := range ch {
		_, sig, err := signaling.Decode([]byte(msg.Payload))
		if err != nil {
			c.l.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable signal")
			continue
		}
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h != nil {
			h(sig)
		}
	}
}

func (c *Channel) Send(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	data, err := signaling.Encode(to, sig)
	if err != nil {
		return err
	}
	receivers, err := c.rdb.Publish(ctx, ChannelName(c.prefix, to), data).Result()
	if err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	if receivers == 0 {
		c.l.Debug().Str("to", to.String()).Str("signal", sig.Type().String()).Msg("No subscriber for signal")
	}
	return nil
}

func (c *Channel) SetHandler(h func(domain.Signal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pubsub.Close()
		<-c.done
	})
	return err
}
