package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the agent UI has a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one signaling connection. Writes come from the hub and from
// relayed signals, so they are serialized.
type WSClient struct {
	id   domain.UserID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) UserID() domain.UserID {
	return c.id
}

func (c *WSClient) SendEnvelope(env signaling.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

func (c *WSClient) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS registers the connection under ?user_id= and relays every
// envelope it sends.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("user_id"))
	if userID.IsZero() {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   userID,
		conn: conn,
	}

	l := log.With().Str("user_id", userID.String()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	for {
		var env signaling.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		sig, err := env.Signal()
		if err != nil {
			l.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed envelope")
			continue
		}
		if err := h.RelayService.Relay(r.Context(), userID, env.Recipient(), sig); err != nil {
			l.Warn().Err(err).Str("signal", sig.Type().String()).Str("to", env.To).Msg("Failed to relay signal")
		}
	}
}
