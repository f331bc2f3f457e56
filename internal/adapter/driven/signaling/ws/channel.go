// Package ws connects to the server's signaling relay over a websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("signaling relay not connected")

type Config struct {
	// URL of the relay endpoint, e.g. ws://localhost:8080/ws
	URL    string
	UserID domain.UserID

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 5 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.ReconnectMin <= 0 {
		out.ReconnectMin = 500 * time.Millisecond
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = 30 * time.Second
	}
	return out
}

// Channel implements port.SignalingChannel. It redials the relay with
// exponential backoff whenever the connection drops; signals sent while
// disconnected fail with ErrNotConnected.
type Channel struct {
	cfg    Config
	target string
	dialer *websocket.Dialer
	l      zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	handlerMu sync.RWMutex
	handler   func(domain.Signal)

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay. The first connection attempt must succeed.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	if cfg.UserID.IsZero() {
		return nil, fmt.Errorf("signaling user id is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", cfg.UserID.String())
	u.RawQuery = q.Encode()

	c := &Channel{
		cfg:    cfg,
		target: u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		l:      log.With().Str("component", "signaling_ws").Str("user_id", cfg.UserID.String()).Logger(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// adopt installs a redialed connection unless Close has started.
func (c *Channel) adopt(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.quit:
		return false
	default:
	}
	c.conn = conn
	return true
}

func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var env signaling.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.l.Warn().Err(err).Msg("Signaling relay connection lost")
			}
			return
		}
		sig, err := env.Signal()
		if err != nil {
			c.l.Warn().Err(err).Str("type", env.Type).Msg("Dropping invalid signal from relay")
			continue
		}

		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h != nil {
			h(sig)
		}
	}
}

func (c *Channel) reconnect() (*websocket.Conn, bool) {
	backoff := c.cfg.ReconnectMin
	for {
		select {
		case <-c.quit:
			return nil, false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			if !c.adopt(conn) {
				conn.Close()
				return nil, false
			}
			c.l.Info().Msg("Reconnected to signaling relay")
			return conn, true
		}

		c.l.Warn().Err(err).Dur("backoff", backoff).Msg("Signaling relay reconnect failed")
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Channel) Send(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	env, err := signaling.NewEnvelope(to, sig)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return nil
}

func (c *Channel) SetHandler(h func(domain.Signal)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	<-c.done
	return nil
}
