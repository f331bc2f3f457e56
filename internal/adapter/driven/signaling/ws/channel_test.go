package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay accepts connections and hands them to the test.
type relay struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	users chan string
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	r := &relay{
		conns: make(chan *websocket.Conn, 4),
		users: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.users <- req.URL.Query().Get("user_id")
		r.conns <- conn
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func (r *relay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-r.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type received struct {
	mu   sync.Mutex
	sigs []domain.Signal
}

func (r *received) handle(sig domain.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
}

func (r *received) all() []domain.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Signal(nil), r.sigs...)
}

func TestChannel_SendAndReceive(t *testing.T) {
	rl := newRelay(t)
	ch, err := Dial(context.Background(), Config{URL: rl.url(), UserID: "alice"})
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "alice", <-rl.users)
	server := rl.accept(t)

	var got received
	ch.SetHandler(got.handle)

	require.NoError(t, ch.Send(context.Background(), "bob", domain.NewInvite("alice", "42", "bob", domain.KindAudio)))
	var env signaling.Envelope
	require.NoError(t, server.ReadJSON(&env))
	assert.Equal(t, "bob", env.To)
	assert.Equal(t, "INVITE", env.Type)

	accept, err := signaling.NewEnvelope("alice", domain.NewAccept("bob", "42"))
	require.NoError(t, err)
	require.NoError(t, server.WriteJSON(accept))
	// Garbage from the relay is skipped without dropping the connection.
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"TRANSFER"}`)))
	require.NoError(t, server.WriteJSON(accept))

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.NewAccept("bob", "42"), got.all()[0])
}

func TestChannel_Reconnects(t *testing.T) {
	rl := newRelay(t)
	ch, err := Dial(context.Background(), Config{
		URL:          rl.url(),
		UserID:       "alice",
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer ch.Close()

	first := rl.accept(t)
	first.Close()

	second := rl.accept(t)
	require.Eventually(t, func() bool {
		return ch.Send(context.Background(), "bob", domain.NewHangup("alice", "42", "")) == nil
	}, 2*time.Second, 10*time.Millisecond)

	var env signaling.Envelope
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, second.ReadJSON(&env))
	assert.Equal(t, "HANGUP", env.Type)
}

func TestChannel_Close(t *testing.T) {
	rl := newRelay(t)
	ch, err := Dial(context.Background(), Config{URL: rl.url(), UserID: "alice"})
	require.NoError(t, err)
	rl.accept(t)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(context.Background(), "bob", domain.NewAccept("alice", "42")), ErrNotConnected)
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorContains(t, err, "user id is required")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = Dial(ctx, Config{URL: "ws://127.0.0.1:1/ws", UserID: "alice"})
	assert.Error(t, err)
}
