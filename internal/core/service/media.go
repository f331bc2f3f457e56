package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrMediaAlreadyOpen = errors.New("media session already open")

// MediaHandle keeps at most one media session open and makes closing it
// cheap for the caller: Close returns at once and the engine leaves the
// room in the background.
type MediaHandle struct {
	engine       port.MediaEngine
	leaveTimeout time.Duration

	mu      sync.Mutex
	session port.MediaSession
	opening bool
	room    domain.RoomID
	gen     uint64

	leaving sync.WaitGroup
}

func NewMediaHandle(engine port.MediaEngine, leaveTimeout time.Duration) *MediaHandle {
	if leaveTimeout <= 0 {
		leaveTimeout = 5 * time.Second
	}
	return &MediaHandle{
		engine:       engine,
		leaveTimeout: leaveTimeout,
	}
}

// Open joins roomID. onRemoteLeft runs at most once for this session and
// never after Close.
func (h *MediaHandle) Open(ctx context.Context, roomID domain.RoomID, participantID domain.UserID, participantName string, kind domain.CallKind, onRemoteLeft func()) error {
	h.mu.Lock()
	if h.session != nil || h.opening {
		h.mu.Unlock()
		return ErrMediaAlreadyOpen
	}
	h.opening = true
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	sess, err := h.engine.Join(ctx, roomID, participantID, participantName, kind)

	h.mu.Lock()
	h.opening = false
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("join media room %s: %w", roomID, err)
	}
	if sess == nil {
		h.mu.Unlock()
		return fmt.Errorf("join media room %s: engine returned no session", roomID)
	}
	h.session = sess
	h.room = roomID
	h.mu.Unlock()

	var once sync.Once
	sess.OnRemoteLeft(func() {
		h.mu.Lock()
		live := h.session != nil && h.gen == gen
		h.mu.Unlock()
		if !live || onRemoteLeft == nil {
			return
		}
		once.Do(onRemoteLeft)
	})
	return nil
}

// Close is safe to call any number of times. It reports whether a session
// was actually open.
func (h *MediaHandle) Close() bool {
	h.mu.Lock()
	sess := h.session
	room := h.room
	h.session = nil
	h.room = ""
	h.gen++
	h.mu.Unlock()

	if sess == nil {
		return false
	}

	h.leaving.Add(1)
	go func() {
		defer h.leaving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.leaveTimeout)
		defer cancel()
		if err := sess.Leave(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", room.String()).Msg("Media engine failed to leave room")
			return
		}
		log.Debug().Str("room_id", room.String()).Msg("Left media room")
	}()
	return true
}

func (h *MediaHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session != nil
}

func (h *MediaHandle) Room() domain.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room
}

// Wait blocks until every background leave has finished or ctx is done.
func (h *MediaHandle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.leaving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
