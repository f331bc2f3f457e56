package pion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRoomServer exposes sfu the way the signaling server does.
func newRoomServer(t *testing.T, sfu *SFU) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /media/{room}/{participant}", func(w http.ResponseWriter, r *http.Request) {
		offer, _ := io.ReadAll(r.Body)
		answer, err := sfu.Join(domain.RoomID(r.PathValue("room")), domain.UserID(r.PathValue("participant")), string(offer))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, answer)
	})
	mux.HandleFunc("DELETE /media/{room}/{participant}", func(w http.ResponseWriter, r *http.Request) {
		sfu.Leave(domain.RoomID(r.PathValue("room")), domain.UserID(r.PathValue("participant")))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSFU(t *testing.T) *SFU {
	t.Helper()
	sfu, err := NewSFU(SFUConfig{GatherTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(sfu.Close)
	return sfu
}

func TestEngine_JoinAndLeave(t *testing.T) {
	sfu := newTestSFU(t)
	srv := newRoomServer(t, sfu)

	engine, err := NewEngine(EngineConfig{BaseURL: srv.URL + "/", GatherTimeout: 500 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := engine.Join(ctx, "42", "alice", "Alice", domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, sfu.Participants("42"))

	s := sess.(*Session)
	assert.NotNil(t, s.LocalAudio())
	assert.NotNil(t, s.LocalVideo())

	require.NoError(t, sess.Leave(ctx))
	assert.Empty(t, sfu.Participants("42"))
	assert.NoError(t, sess.Leave(ctx), "leave is idempotent")
}

func TestEngine_AudioOnly(t *testing.T) {
	sfu := newTestSFU(t)
	srv := newRoomServer(t, sfu)
	engine, err := NewEngine(EngineConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	sess, err := engine.Join(context.Background(), "42", "bob", "Bob", domain.KindAudio)
	require.NoError(t, err)
	defer sess.Leave(context.Background())
	assert.Nil(t, sess.(*Session).LocalVideo())
}

func TestEngine_JoinRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room is full", http.StatusConflict)
	}))
	defer srv.Close()

	engine, err := NewEngine(EngineConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = engine.Join(context.Background(), "42", "alice", "Alice", domain.KindAudio)
	assert.ErrorContains(t, err, "status 409")
}

func TestNewEngine_RequiresBaseURL(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	assert.Error(t, err)
}

func TestSFU_RejectsBadOffer(t *testing.T) {
	sfu := newTestSFU(t)
	_, err := sfu.Join("42", "alice", "not an sdp")
	assert.Error(t, err)
	assert.Empty(t, sfu.Participants("42"))
}

func TestSession_RemoteLeft(t *testing.T) {
	s := &Session{participant: "alice", room: "42"}
	var fired atomic.Int32
	s.OnRemoteLeft(func() { fired.Add(1) })

	// Our own departure echoed back is not the peer leaving.
	s.handleEvent(webrtc.DataChannelMessage{Data: []byte(`{"event":"left","participant":"alice"}`)})
	assert.Equal(t, int32(0), fired.Load())

	s.handleEvent(webrtc.DataChannelMessage{Data: []byte(`{"event":"left","participant":"bob"}`)})
	s.handleEvent(webrtc.DataChannelMessage{Data: []byte(`{"event":"left","participant":"bob"}`)})
	assert.Equal(t, int32(1), fired.Load())
}

func TestSession_OnRemoteLeftAfterPeerGone(t *testing.T) {
	s := &Session{participant: "alice", room: "42"}
	s.handleEvent(webrtc.DataChannelMessage{Data: []byte(`{"event":"left","participant":"bob"}`)})

	var fired atomic.Int32
	s.OnRemoteLeft(func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_BadEventIgnored(t *testing.T) {
	s := &Session{participant: "alice", room: "42"}
	var fired atomic.Int32
	s.OnRemoteLeft(func() { fired.Add(1) })

	s.handleEvent(webrtc.DataChannelMessage{Data: []byte(`{`)})
	assert.Equal(t, int32(0), fired.Load())
	assert.True(t, strings.HasPrefix(EventsLabel, "room"))
}
