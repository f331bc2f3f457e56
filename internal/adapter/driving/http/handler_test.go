package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	sigws "github.com/Wyydra/yacall/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoom struct {
	mu     sync.Mutex
	offers map[domain.UserID]string
	left   []domain.UserID
	err    error
}

func (r *fakeRoom) Join(roomID domain.RoomID, participantID domain.UserID, offerSDP string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.offers[participantID] = offerSDP
	return "answer-for-" + roomID.String(), nil
}

func (r *fakeRoom) Leave(_ domain.RoomID, participantID domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, participantID)
}

func (r *fakeRoom) offer(id domain.UserID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offers[id]
}

func (r *fakeRoom) leftParticipants() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UserID(nil), r.left...)
}

func (r *fakeRoom) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type testServer struct {
	srv  *httptest.Server
	hub  *ws.Hub
	room *fakeRoom
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	profiles := service.NewProfileService(memory.NewProfileRepository())
	require.NoError(t, profiles.Register(context.Background(), "3", "Carol", "https://example.com/c.png"))

	hub := ws.NewHub()
	room := &fakeRoom{offers: make(map[domain.UserID]string)}
	h := NewHandler(service.NewRelayService(hub, nil), profiles, hub, room, http.NotFoundHandler())

	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return &testServer{srv: srv, hub: hub, room: room}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func TestGetUser(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/users/3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"id":"3","name":"Carol","avatar_url":"https://example.com/c.png"}`, string(body))

	resp, err = http.Get(s.srv.URL + "/users/4")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMediaRoutes(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/media/42/1", strings.NewReader("v=0 offer"))
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("X-Participant-Name", "Alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "answer-for-42", string(body))
	assert.Equal(t, "v=0 offer", s.room.offer("1"))

	resp, err = http.Post(s.srv.URL+"/media/42/1", "application/sdp", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.room.fail(errors.New("ice failed"))
	resp, err = http.Post(s.srv.URL+"/media/42/2", "application/sdp", strings.NewReader("v=0"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, s.srv.URL+"/media/42/1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []domain.UserID{"1"}, s.room.leftParticipants())
}

func TestServeWS_RequiresUserID(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type inbox struct {
	mu   sync.Mutex
	sigs []domain.Signal
}

func (i *inbox) handle(sig domain.Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sigs = append(i.sigs, sig)
}

func (i *inbox) received() []domain.Signal {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]domain.Signal(nil), i.sigs...)
}

func dial(t *testing.T, s *testServer, user domain.UserID) *sigws.Channel {
	t.Helper()
	ch, err := sigws.Dial(context.Background(), sigws.Config{URL: s.wsURL(), UserID: user})
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	require.Eventually(t, func() bool { return s.hub.Online(user) }, time.Second, 5*time.Millisecond)
	return ch
}

func TestRelayOverWebsocket(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s, "alice")
	bob := dial(t, s, "bob")

	var bobInbox, aliceInbox inbox
	bob.SetHandler(bobInbox.handle)
	alice.SetHandler(aliceInbox.handle)

	inv := domain.NewInvite("alice", "42", "bob", domain.KindVideo)
	require.NoError(t, alice.Send(context.Background(), "bob", inv))
	require.Eventually(t, func() bool { return len(bobInbox.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, inv, bobInbox.received()[0])

	require.NoError(t, bob.Send(context.Background(), "alice", domain.NewAccept("bob", "42")))
	require.Eventually(t, func() bool { return len(aliceInbox.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.NewAccept("bob", "42"), aliceInbox.received()[0])
}

func TestRelayDropsSpoofedAndOffline(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s, "alice")
	bob := dial(t, s, "bob")

	var bobInbox inbox
	bob.SetHandler(bobInbox.handle)

	require.NoError(t, alice.Send(context.Background(), "bob", domain.NewHangup("mallory", "42", "")))
	require.NoError(t, alice.Send(context.Background(), "carol", domain.NewHangup("alice", "42", "")))
	require.NoError(t, alice.Send(context.Background(), "bob", domain.NewHangup("alice", "42", "last")))

	// Signals on one connection are relayed in order, so once the last
	// one lands the earlier ones have been dropped.
	require.Eventually(t, func() bool { return len(bobInbox.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.NewHangup("alice", "42", "last"), bobInbox.received()[0])
}
