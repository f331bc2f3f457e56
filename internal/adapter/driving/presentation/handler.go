// Package presentation is the agent's local API. A UI polls GET /call or
// follows /call/events and drives the session with the POST routes.
package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Calls is what the API needs from the call service.
type Calls interface {
	Snapshot() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
	Initiate(ctx context.Context, target domain.UserID, roomID domain.RoomID, kind domain.CallKind) error
	Answer(ctx context.Context) error
	Reject(ctx context.Context) error
	EndCall(ctx context.Context) error
}

type Handler struct {
	Calls       Calls
	Metrics     http.Handler
	DefaultKind domain.CallKind
}

func NewHandler(calls Calls, defaultKind domain.CallKind, metrics http.Handler) *Handler {
	if defaultKind == "" {
		defaultKind = domain.KindAudio
	}
	return &Handler{
		Calls:       calls,
		Metrics:     metrics,
		DefaultKind: defaultKind,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/call", func(r chi.Router) {
		r.Get("/", h.GetCall)
		r.Post("/initiate", h.Initiate)
		r.Post("/answer", h.intent(h.Calls.Answer))
		r.Post("/reject", h.intent(h.Calls.Reject))
		r.Post("/end", h.intent(h.Calls.EndCall))
		r.Get("/events", h.Events)
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	return r
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Calls.Snapshot())
}

type initiateRequest struct {
	TargetUserID string `json:"target_user_id"`
	RoomID       string `json:"room_id"`
	CallKind     string `json:"call_kind"`
}

func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	kind := h.DefaultKind
	if req.CallKind != "" {
		k, err := domain.ParseCallKind(req.CallKind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	room := domain.RoomID(req.RoomID)
	if room.IsZero() {
		room = domain.NewRoomID()
	}

	if err := h.Calls.Initiate(r.Context(), domain.UserID(req.TargetUserID), room, kind); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Calls.Snapshot())
}

func (h *Handler) intent(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.Calls.Snapshot())
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrNoIncomingCall):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Call intent failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events streams snapshots until the client goes away or the call service
// stops.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}
	defer conn.Close()

	snaps, cancel := h.Calls.Subscribe()
	defer cancel()

	// The read side only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-snaps:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "call service stopped"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.Debug().Err(err).Msg("Snapshot stream closed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
