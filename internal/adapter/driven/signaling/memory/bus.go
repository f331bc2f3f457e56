// Package memory is an in-process signaling bus. Every signal is run
// through the wire codec so it behaves like the networked transports.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signaling channel closed")

const queueSize = 64

type Bus struct {
	mu        sync.RWMutex
	endpoints map[domain.UserID]*Channel
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[domain.UserID]*Channel)}
}

// Connect attaches user to the bus, replacing any previous endpoint for
// the same user.
func (b *Bus) Connect(user domain.UserID) *Channel {
	c := &Channel{
		bus:   b,
		user:  user,
		queue: make(chan []byte, queueSize),
		quit:  make(chan struct{}),
	}

	b.mu.Lock()
	old := b.endpoints[user]
	b.endpoints[user] = c
	b.mu.Unlock()
	if old != nil {
		old.shutdown()
	}

	go c.run()
	return c
}

func (b *Bus) lookup(user domain.UserID) *Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[user]
}

func (b *Bus) remove(c *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpoints[c.user] == c {
		delete(b.endpoints, c.user)
	}
}

// Channel implements port.SignalingChannel for one user.
type Channel struct {
	bus  *Bus
	user domain.UserID

	mu      sync.RWMutex
	handler func(domain.Signal)

	queue     chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func (c *Channel) Send(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}

	data, err := signaling.Encode(to, sig)
	if err != nil {
		return err
	}

	dst := c.bus.lookup(to)
	if dst == nil {
		log.Debug().Str("to", to.String()).Str("signal", sig.Type().String()).Msg("No endpoint on bus, dropping signal")
		return nil
	}

	select {
	case dst.queue <- data:
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Warn().Str("to", to.String()).Msg("Bus queue full, dropping signal")
	}
	return nil
}

func (c *Channel) SetHandler(h func(domain.Signal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Channel) Close() error {
	c.bus.remove(c)
	c.shutdown()
	return nil
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *Channel) run() {
	for {
		select {
		case <-c.quit:
			return
		case data := <-c.queue:
			_, sig, err := signaling.Decode(data)
			if err != nil {
				log.Warn().Err(err).Str("user_id", c.user.String()).Msg("Dropping undecodable signal")
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
}
