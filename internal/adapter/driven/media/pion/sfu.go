package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Peer struct {
	ID domain.UserID
	PC *webrtc.PeerConnection

	mu                 sync.Mutex
	events             *webrtc.DataChannel
	negotiationPending bool // renegotiation needed but the peer was not ready for an offer
	done               chan struct{}
}

func (p *Peer) eventsChannel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil || p.events.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return p.events
}

type trackInfo struct {
	Track *webrtc.TrackLocalStaticRTP
	Owner domain.UserID
}

type SFUConfig struct {
	ICEServers    []string
	GatherTimeout time.Duration
	PLIInterval   time.Duration
}

// SFU relays media between the participants of a room. Each participant
// sends its offer over HTTP; later renegotiation happens over the
// room-events data channel the participant opens.
type SFU struct {
	api *webrtc.API
	cfg SFUConfig
	// RoomID -> UserID -> Peer
	rooms map[domain.RoomID]map[domain.UserID]*Peer
	// RoomID -> tracks published in that room
	tracks map[domain.RoomID][]trackInfo
	mu     sync.RWMutex
}

func NewSFU(cfg SFUConfig) (*SFU, error) {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 2 * time.Second
	}
	if cfg.PLIInterval <= 0 {
		cfg.PLIInterval = 3 * time.Second
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	return &SFU{
		api:    api,
		cfg:    cfg,
		rooms:  make(map[domain.RoomID]map[domain.UserID]*Peer),
		tracks: make(map[domain.RoomID][]trackInfo),
	}, nil
}

func (a *SFU) configuration() webrtc.Configuration {
	if len(a.cfg.ICEServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: a.cfg.ICEServers}}}
}

// Join adds userID to roomID and answers its offer. Tracks already
// published in the room are included in the answer.
func (a *SFU) Join(roomID domain.RoomID, userID domain.UserID, offerSDP string) (string, error) {
	a.Leave(roomID, userID)

	pc, err := a.api.NewPeerConnection(a.configuration())
	if err != nil {
		return "", err
	}
	peer := &Peer{ID: userID, PC: pc, done: make(chan struct{})}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != EventsLabel {
			return
		}
		peer.mu.Lock()
		peer.events = dc
		peer.mu.Unlock()

		dc.OnOpen(func() {
			peer.mu.Lock()
			pending := peer.negotiationPending
			peer.negotiationPending = false
			peer.mu.Unlock()
			if pending {
				go a.renegotiate(roomID, peer)
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			ev, err := decodeEvent(msg)
			if err != nil {
				log.Warn().Err(err).Str("user_id", userID.String()).Msg("Bad room event")
				return
			}
			if ev.Event == eventAnswer {
				if err := a.handleAnswer(roomID, peer, ev.SDP); err != nil {
					log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to apply renegotiation answer")
				}
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("user_id", userID.String()).Str("state", state.String()).Msg("Peer connection state")
		if state == webrtc.PeerConnectionStateFailed {
			go a.Leave(roomID, userID)
		}
	})

	// When this peer sends a track, forward it to everyone else.
	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		a.forward(roomID, peer, remoteTrack)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set offer: %w", err)
	}

	a.mu.Lock()
	if _, ok := a.rooms[roomID]; !ok {
		a.rooms[roomID] = make(map[domain.UserID]*Peer)
		a.tracks[roomID] = []trackInfo{}
	}
	a.rooms[roomID][userID] = peer

	// Existing tracks go to the newcomer. Never send back its own.
	for _, t := range a.tracks[roomID] {
		if t.Owner != userID {
			if _, err := pc.AddTrack(t.Track); err != nil {
				log.Error().Err(err).Msg("Failed to add existing track to new peer")
			}
		}
	}
	a.mu.Unlock()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		a.Leave(roomID, userID)
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		a.Leave(roomID, userID)
		return "", fmt.Errorf("set answer: %w", err)
	}
	waitGathering(context.Background(), pc, a.cfg.GatherTimeout)

	log.Info().Str("room_id", roomID.String()).Str("user_id", userID.String()).Msg("Peer joined media room")
	return pc.LocalDescription().SDP, nil
}

func (a *SFU) forward(roomID domain.RoomID, peer *Peer, remoteTrack *webrtc.TrackRemote) {
	userID := peer.ID
	log.Debug().Str("kind", remoteTrack.Kind().String()).Str("user_id", userID.String()).Msg("Received remote track")

	localTrack, err := webrtc.NewTrackLocalStaticRTP(remoteTrack.Codec().RTPCodecCapability, remoteTrack.ID(), remoteTrack.StreamID())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create local track")
		return
	}

	a.mu.Lock()
	a.tracks[roomID] = append(a.tracks[roomID], trackInfo{Track: localTrack, Owner: userID})
	for otherID, otherPeer := range a.rooms[roomID] {
		if otherID == userID || otherPeer.PC.ConnectionState() == webrtc.PeerConnectionStateClosed {
			continue
		}
		if _, err := otherPeer.PC.AddTrack(localTrack); err != nil {
			log.Error().Err(err).Msg("Failed to add track to other peer")
			continue
		}
		go a.renegotiate(roomID, otherPeer)
	}
	a.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := remoteTrack.Read(buf)
			if err != nil {
				return
			}
			if _, err := localTrack.Write(buf[:n]); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return
			}
		}
	}()

	if remoteTrack.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	// Ask for a keyframe now and then so late joiners get a picture.
	go func() {
		sendPLI := func() error {
			return peer.PC.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remoteTrack.SSRC())},
			})
		}
		if err := sendPLI(); err != nil {
			return
		}
		ticker := time.NewTicker(a.cfg.PLIInterval)
		defer ticker.Stop()
		for {
			select {
			case <-peer.done:
				return
			case <-ticker.C:
				if err := sendPLI(); err != nil {
					return
				}
			}
		}
	}()
}

func (a *SFU) renegotiate(roomID domain.RoomID, peer *Peer) {
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.PC.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return
	}
	if peer.events == nil || peer.events.ReadyState() != webrtc.DataChannelStateOpen ||
		peer.PC.SignalingState() != webrtc.SignalingStateStable {
		log.Debug().Str("user_id", peer.ID.String()).Msg("Renegotiation: peer not ready, queuing")
		peer.negotiationPending = true
		return
	}

	offer, err := peer.PC.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to create offer")
		return
	}
	if err := peer.PC.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Msg("Renegotiation: failed to set local description")
		return
	}
	waitGathering(context.Background(), peer.PC, a.cfg.GatherTimeout)

	if err := sendEvent(peer.events, roomEvent{Event: eventOffer, SDP: peer.PC.LocalDescription().SDP}); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Str("user_id", peer.ID.String()).Msg("Renegotiation: failed to send offer")
	}
}

func (a *SFU) handleAnswer(roomID domain.RoomID, peer *Peer, sdp string) error {
	log.Debug().Int("sdp_len", len(sdp)).Str("user_id", peer.ID.String()).Msg("Setting remote description (answer)")
	if err := peer.PC.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}

	peer.mu.Lock()
	pending := peer.negotiationPending
	peer.negotiationPending = false
	peer.mu.Unlock()

	if pending {
		log.Debug().Str("user_id", peer.ID.String()).Msg("Triggering queued renegotiation")
		go a.renegotiate(roomID, peer)
	}
	return nil
}

// Leave removes userID from roomID, withdraws its tracks from the other
// peers and tells them it left.
func (a *SFU) Leave(roomID domain.RoomID, userID domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	room, ok := a.rooms[roomID]
	if !ok {
		return
	}
	peer, ok := room[userID]
	if !ok {
		return
	}
	delete(room, userID)
	close(peer.done)
	if err := peer.PC.Close(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to close peer connection")
	}

	var remaining []trackInfo
	var removed []*webrtc.TrackLocalStaticRTP
	for _, t := range a.tracks[roomID] {
		if t.Owner == userID {
			removed = append(removed, t.Track)
		} else {
			remaining = append(remaining, t)
		}
	}
	a.tracks[roomID] = remaining

	for otherID, other := range room {
		if other.PC.ConnectionState() == webrtc.PeerConnectionStateClosed {
			continue
		}

		needsRenegotiation := false
		for _, sender := range other.PC.GetSenders() {
			track := sender.Track()
			if track == nil {
				continue
			}
			for _, r := range removed {
				if track == r {
					if err := other.PC.RemoveTrack(sender); err != nil {
						log.Error().Err(err).Str("user_id", otherID.String()).Msg("Failed to remove track")
					} else {
						needsRenegotiation = true
					}
				}
			}
		}

		if dc := other.eventsChannel(); dc != nil {
			if err := sendEvent(dc, roomEvent{Event: eventLeft, Participant: userID.String()}); err != nil {
				log.Warn().Err(err).Str("user_id", otherID.String()).Msg("Failed to send leave notice")
			}
		}
		if needsRenegotiation {
			go a.renegotiate(roomID, other)
		}
	}

	if len(room) == 0 {
		delete(a.rooms, roomID)
		delete(a.tracks, roomID)
	}
	log.Info().Str("room_id", roomID.String()).Str("user_id", userID.String()).Msg("Peer left media room")
}

// Participants lists who is in roomID.
func (a *SFU) Participants(roomID domain.RoomID) []domain.UserID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.UserID, 0, len(a.rooms[roomID]))
	for id := range a.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

// Close drops every peer in every room.
func (a *SFU) Close() {
	a.mu.RLock()
	var pairs [][2]string
	for roomID, room := range a.rooms {
		for userID := range room {
			pairs = append(pairs, [2]string{roomID.String(), userID.String()})
		}
	}
	a.mu.RUnlock()

	for _, p := range pairs {
		a.Leave(domain.RoomID(p[0]), domain.UserID(p[1]))
	}
}
