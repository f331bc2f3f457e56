package ws

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const defaultPingInterval = 30 * time.Second

// implements port.RealTimeGateway
type Hub struct {
	mu           sync.RWMutex
	clients      map[domain.UserID]Client
	pingInterval time.Duration
	quit         chan struct{}
	stopOnce     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:      make(map[domain.UserID]Client),
		pingInterval: defaultPingInterval,
		quit:         make(chan struct{}),
	}
}

func (h *Hub) SendSignal(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	env, err := signaling.NewEnvelope(to, sig)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return port.ErrRecipientOffline
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return client.SendEnvelope(env)
}

// Register makes c the connection for its user. A previous connection for
// the same user is closed.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	old := h.clients[c.UserID()]
	h.clients[c.UserID()] = c
	count := len(h.clients)
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close()
		log.Info().Str("user_id", c.UserID().String()).Msg("Replaced existing client connection")
	}
	log.Info().Int("count", count).Str("user_id", c.UserID().String()).Msg("Client registered")
}

func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.UserID()]
	if ok && cur == c {
		delete(h.clients, c.UserID())
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok && cur == c {
		log.Info().Int("count", count).Str("user_id", c.UserID().String()).Msg("Client unregistered")
	}
}

func (h *Hub) Online(user domain.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[user]
	return ok
}

// Run pings every client until Stop. Clients that fail the ping are
// dropped.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case <-ticker.C:
			h.mu.RLock()
			clients := make([]Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if err := client.Ping(); err != nil {
					log.Error().Err(err).Str("user_id", client.UserID().String()).Msg("Ping failed, dropping client")
					h.Unregister(client)
					client.Close()
				}
			}
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
