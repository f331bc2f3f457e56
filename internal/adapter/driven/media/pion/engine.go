package pion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const ParticipantNameHeader = "X-Participant-Name"

type EngineConfig struct {
	// BaseURL of the server hosting the media rooms, e.g. http://localhost:8080
	BaseURL       string
	ICEServers    []string
	GatherTimeout time.Duration
	HTTPTimeout   time.Duration
}

// Engine joins media rooms on the server's SFU. It implements
// port.MediaEngine.
type Engine struct {
	api  *webrtc.API
	cfg  EngineConfig
	http *http.Client
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("media base url is required")
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	return &Engine{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (e *Engine) roomURL(roomID domain.RoomID, participantID domain.UserID) string {
	return e.cfg.BaseURL + "/media/" + url.PathEscape(roomID.String()) + "/" + url.PathEscape(participantID.String())
}

func (e *Engine) Join(ctx context.Context, roomID domain.RoomID, participantID domain.UserID, participantName string, kind domain.CallKind) (port.MediaSession, error) {
	cfg := webrtc.Configuration{}
	if len(e.cfg.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: e.cfg.ICEServers}}
	}
	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		engine:      e,
		room:        roomID,
		participant: participantID,
		pc:          pc,
	}
	if err := s.setup(kind); err != nil {
		pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set offer: %w", err)
	}
	waitGathering(ctx, pc, e.cfg.GatherTimeout)

	answer, err := e.exchange(ctx, roomID, participantID, participantName, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		pc.Close()
		e.leave(context.Background(), roomID, participantID)
		return nil, fmt.Errorf("set answer: %w", err)
	}

	log.Info().Str("room_id", roomID.String()).Str("kind", kind.String()).Msg("Joined media room")
	return s, nil
}

func (e *Engine) exchange(ctx context.Context, roomID domain.RoomID, participantID domain.UserID, name, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.roomURL(roomID, participantID), strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set(ParticipantNameHeader, name)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("post offer: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return string(body), nil
}

func (e *Engine) leave(ctx context.Context, roomID domain.RoomID, participantID domain.UserID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.roomURL(roomID, participantID), nil)
	if err != nil {
		return err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("leave room: status %d", resp.StatusCode)
	}
	return nil
}

// Session is one joined room.
type Session struct {
	engine      *Engine
	room        domain.RoomID
	participant domain.UserID
	pc          *webrtc.PeerConnection
	events      *webrtc.DataChannel
	audio       *webrtc.TrackLocalStaticSample
	video       *webrtc.TrackLocalStaticSample

	negMu sync.Mutex

	mu           sync.Mutex
	onRemoteLeft func()
	remoteGone   bool
	leaving      bool
}

func (s *Session) setup(kind domain.CallKind) error {
	var err error
	s.audio, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.participant.String())
	if err != nil {
		return err
	}
	if _, err := s.pc.AddTrack(s.audio); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	if kind == domain.KindVideo {
		s.video, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.participant.String())
		if err != nil {
			return err
		}
		if _, err := s.pc.AddTrack(s.video); err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
	}

	s.events, err = s.pc.CreateDataChannel(EventsLabel, nil)
	if err != nil {
		return fmt.Errorf("create events channel: %w", err)
	}
	s.events.OnMessage(s.handleEvent)

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", track.Kind().String()).Str("room_id", s.room.String()).Msg("Remote track started")
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			s.remoteLeft()
		}
	})
	return nil
}

func (s *Session) handleEvent(msg webrtc.DataChannelMessage) {
	ev, err := decodeEvent(msg)
	if err != nil {
		log.Warn().Err(err).Str("room_id", s.room.String()).Msg("Bad room event")
		return
	}
	switch ev.Event {
	case eventOffer:
		go s.answerRenegotiation(ev.SDP)
	case eventLeft:
		if domain.UserID(ev.Participant) != s.participant {
			s.remoteLeft()
		}
	}
}

func (s *Session) answerRenegotiation(sdp string) {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to set offer")
		return
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to create answer")
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to set answer")
		return
	}
	waitGathering(context.Background(), s.pc, s.engine.cfg.GatherTimeout)
	if err := sendEvent(s.events, roomEvent{Event: eventAnswer, SDP: s.pc.LocalDescription().SDP}); err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to send answer")
	}
}

func (s *Session) remoteLeft() {
	s.mu.Lock()
	if s.leaving || s.remoteGone {
		s.mu.Unlock()
		return
	}
	s.remoteGone = true
	fn := s.onRemoteLeft
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// OnRemoteLeft registers fn. If the peer already left, fn runs right away.
func (s *Session) OnRemoteLeft(fn func()) {
	s.mu.Lock()
	s.onRemoteLeft = fn
	gone := s.remoteGone && !s.leaving
	s.mu.Unlock()

	if gone && fn != nil {
		go fn()
	}
}

func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return nil
	}
	s.leaving = true
	s.mu.Unlock()

	closeErr := s.pc.Close()
	leaveErr := s.engine.leave(ctx, s.room, s.participant)
	return errors.Join(closeErr, leaveErr)
}

// LocalAudio is where captured audio samples are written.
func (s *Session) LocalAudio() *webrtc.TrackLocalStaticSample {
	return s.audio
}

// LocalVideo is nil for audio calls.
func (s *Session) LocalVideo() *webrtc.TrackLocalStaticSample {
	return s.video
}
