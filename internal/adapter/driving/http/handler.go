package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const maxOfferSize = 1 << 20

type Handler struct {
	RelayService   *service.RelayService
	ProfileService *service.ProfileService
	Hub            *ws.Hub
	Media          port.MediaRoom
	Metrics        http.Handler
}

func NewHandler(relay *service.RelayService, profiles *service.ProfileService, hub *ws.Hub, media port.MediaRoom, metrics http.Handler) *Handler {
	return &Handler{
		RelayService:   relay,
		ProfileService: profiles,
		Hub:            hub,
		Media:          media,
		Metrics:        metrics,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/users/{id}", h.GetUser)
	r.Post("/media/{room}/{participant}", h.JoinMedia)
	r.Delete("/media/{room}/{participant}", h.LeaveMedia)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	return r
}

type userDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := domain.UserID(chi.URLParam(r, "id"))
	p, err := h.ProfileService.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		http.Error(w, "user not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", id.String()).Msg("Profile lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userDTO{
		ID:        id.String(),
		Name:      p.Name(),
		AvatarURL: p.AvatarURL(),
	})
}

func (h *Handler) JoinMedia(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(chi.URLParam(r, "room"))
	participant := domain.UserID(chi.URLParam(r, "participant"))

	offer, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize))
	if err != nil || len(offer) == 0 {
		http.Error(w, "missing sdp offer", http.StatusBadRequest)
		return
	}

	answer, err := h.Media.Join(room, participant, string(offer))
	if err != nil {
		log.Error().Err(err).Str("room_id", room.String()).Str("participant", participant.String()).Msg("Media join failed")
		http.Error(w, "media join failed", http.StatusBadGateway)
		return
	}
	log.Info().
		Str("room_id", room.String()).
		Str("participant", participant.String()).
		Str("name", r.Header.Get(pion.ParticipantNameHeader)).
		Msg("Participant joined media room")

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, answer)
}

func (h *Handler) LeaveMedia(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(chi.URLParam(r, "room"))
	participant := domain.UserID(chi.URLParam(r, "participant"))
	h.Media.Leave(room, participant)
	w.WriteHeader(http.StatusNoContent)
}
