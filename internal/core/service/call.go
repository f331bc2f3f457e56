package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy            = errors.New("call already in progress")
	ErrNoIncomingCall  = errors.New("no incoming call")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStopped         = errors.New("call service stopped")
)

const (
	rejectReason        = "rejected by user"
	mediaFailureReason  = "media unavailable"
	defaultInboxSize    = 64
	defaultSubscriberCh = 16
)

type CallConfig struct {
	LocalUserID domain.UserID
	// LocalName is announced to the media room.
	LocalName string

	// TeardownDelay gives the presentation layer a render cycle to drop
	// the media surface before the engine is torn down.
	TeardownDelay    time.Duration
	JoinTimeout      time.Duration
	LeaveTimeout     time.Duration
	SendTimeout      time.Duration
	DirectoryTimeout time.Duration
}

func (c CallConfig) withDefaults() CallConfig {
	out := c
	if out.TeardownDelay <= 0 {
		out.TeardownDelay = 200 * time.Millisecond
	}
	if out.JoinTimeout <= 0 {
		out.JoinTimeout = 10 * time.Second
	}
	if out.LeaveTimeout <= 0 {
		out.LeaveTimeout = 5 * time.Second
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 3 * time.Second
	}
	if out.DirectoryTimeout <= 0 {
		out.DirectoryTimeout = 5 * time.Second
	}
	if out.LocalName == "" {
		out.LocalName = out.LocalUserID.String()
	}
	return out
}

// CallService is the call-session coordinator. One goroutine (Run) owns
// the session: signals, user intents, media callbacks, profile lookups and
// teardown timers are all funneled through its inbox.
type CallService struct {
	cfg       CallConfig
	signaling port.SignalingChannel
	directory port.CallerDirectory
	media     *MediaHandle
	metrics   *Metrics
	log       zerolog.Logger

	inbox    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// owned by the Run goroutine
	fsm      *fsm.FSM
	session  domain.CallSession
	profile  *domain.CallerProfile
	prompt   bool
	notice   string
	gen      uint64
	teardown *time.Timer

	snapMu   sync.RWMutex
	snapshot domain.Snapshot
	version  uint64
	subs     map[int]chan domain.Snapshot
	nextSub  int
}

func NewCallService(cfg CallConfig, signaling port.SignalingChannel, directory port.CallerDirectory, engine port.MediaEngine, metrics *Metrics) (*CallService, error) {
	if cfg.LocalUserID.IsZero() {
		return nil, fmt.Errorf("%w: local user id is required", ErrInvalidArgument)
	}
	if signaling == nil || engine == nil {
		return nil, fmt.Errorf("%w: signaling channel and media engine are required", ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()

	s := &CallService{
		cfg:       cfg,
		signaling: signaling,
		directory: directory,
		media:     NewMediaHandle(engine, cfg.LeaveTimeout),
		metrics:   metrics,
		log:       log.With().Str("component", "call").Str("user_id", cfg.LocalUserID.String()).Logger(),
		inbox:     make(chan func(), defaultInboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		session:   domain.CallSession{Status: domain.StatusIdle, LocalUserID: cfg.LocalUserID},
		subs:      make(map[int]chan domain.Snapshot),
	}
	s.initFSM()
	s.snapshot = domain.Snapshot{Status: domain.StatusIdle}

	signaling.SetHandler(s.HandleSignal)
	return s, nil
}

// Run processes the inbox until Stop is called.
func (s *CallService) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case fn := <-s.inbox:
			fn()
		}
	}
}

func (s *CallService) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Done is closed once Run has returned and media has been released.
func (s *CallService) Done() <-chan struct{} {
	return s.done
}

func (s *CallService) shutdown() {
	if s.teardown != nil {
		s.teardown.Stop()
		s.teardown = nil
	}
	switch s.session.Status {
	case domain.StatusCalling, domain.StatusConnected:
		s.send(s.session.RemoteUserID, domain.NewHangup(s.cfg.LocalUserID, s.session.RoomID, "shutdown"))
	case domain.StatusRinging:
		s.send(s.session.RemoteUserID, domain.NewReject(s.cfg.LocalUserID, s.session.RoomID, "shutdown"))
	}
	s.media.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaveTimeout)
	defer cancel()
	if err := s.media.Wait(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Media did not leave before shutdown")
	}

	s.snapMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.snapMu.Unlock()
	s.log.Info().Msg("Call service stopped")
}

// post hands fn to the Run goroutine. It gives up once the service stops.
func (s *CallService) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// exec runs fn on the Run goroutine and waits for its result.
func (s *CallService) exec(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- func() { reply <- fn() }:
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published state.
func (s *CallService) Snapshot() domain.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// Subscribe streams every published snapshot, starting with the current
// one. A subscriber that falls behind misses snapshots rather than
// stalling the call service.
func (s *CallService) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, defaultSubscriberCh)

	s.snapMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshot
	s.snapMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.snapMu.Lock()
			defer s.snapMu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (s *CallService) publish() {
	snap := domain.Snapshot{
		Status:         s.session.Status,
		Kind:           s.session.Kind,
		RemoteUserID:   s.session.RemoteUserID,
		IncomingPrompt: s.prompt,
		Notice:         s.notice,
		StartedAt:      s.session.StartedAt,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.version++
	snap.Version = s.version
	s.snapshot = snap
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.log.Warn().Int("subscriber", id).Uint64("version", snap.Version).Msg("Snapshot subscriber is full, dropping snapshot")
		}
	}
}

// HandleSignal is the signaling channel handler. Echoes of our own signals
// and malformed signals never reach the state machine.
func (s *CallService) HandleSignal(sig domain.Signal) {
	if err := domain.ValidateSignal(sig); err != nil {
		s.metrics.ignored("invalid")
		s.log.Debug().Err(err).Msg("Dropping malformed signal")
		return
	}
	s.metrics.received(sig.Type().String())
	if sig.Sender() == s.cfg.LocalUserID {
		s.metrics.ignored("self")
		return
	}
	if !s.post(func() { s.dispatch(sig) }) {
		s.log.Debug().Str("signal", sig.Type().String()).Msg("Call service stopped, dropping signal")
	}
}

func (s *CallService) dispatch(sig domain.Signal) {
	switch sig := sig.(type) {
	case domain.Invite:
		s.onInvite(sig)
	case domain.Accept:
		s.onAccept(sig)
	case domain.Reject:
		s.onReject(sig)
	case domain.Hangup:
		s.onHangup(sig)
	default:
		s.metrics.ignored("unknown")
		s.log.Warn().Str("signal", fmt.Sprintf("%T", sig)).Msg("Unknown signal type")
	}
}

// fromPeer reports whether sig belongs to the active session.
func (s *CallService) fromPeer(sig domain.Signal) bool {
	if !s.session.Status.Active() {
		s.ignore(sig, "idle")
		return false
	}
	if sig.Room() != s.session.RoomID {
		s.ignore(sig, "stale_room")
		return false
	}
	if sig.Sender() != s.session.RemoteUserID {
		s.ignore(sig, "not_peer")
		return false
	}
	return true
}

func (s *CallService) ignore(sig domain.Signal, reason string) {
	s.metrics.ignored(reason)
	s.log.Debug().
		Str("signal", sig.Type().String()).
		Str("sender_id", sig.Sender().String()).
		Str("room_id", sig.Room().String()).
		Str("status", s.session.Status.String()).
		Str("reason", reason).
		Msg("Ignoring signal")
}

func (s *CallService) onInvite(inv domain.Invite) {
	if s.session.Status != domain.StatusIdle {
		s.ignore(inv, "busy")
		return
	}
	if inv.TargetUserID != s.cfg.LocalUserID {
		s.ignore(inv, "not_addressed")
		return
	}

	s.beginSession(domain.CallSession{
		Kind:         inv.Kind,
		RoomID:       inv.RoomID,
		IsInitiator:  false,
		LocalUserID:  s.cfg.LocalUserID,
		RemoteUserID: inv.SenderID,
		StartedAt:    time.Now(),
	})
	pending := domain.PendingProfile(inv.SenderID)
	s.profile = &pending
	s.prompt = true

	if !s.fire(evInvite) {
		return
	}
	s.resolveProfile(s.gen, inv.RoomID, inv.SenderID)
}

func (s *CallService) onAccept(acc domain.Accept) {
	if !s.fromPeer(acc) {
		return
	}
	if s.session.Status != domain.StatusCalling {
		s.ignore(acc, "unexpected_state")
		return
	}
	s.fire(evAccepted)
}

func (s *CallService) onReject(rej domain.Reject) {
	if !s.fromPeer(rej) {
		return
	}
	switch s.session.Status {
	case domain.StatusCalling, domain.StatusConnected:
		s.log.Info().Str("room_id", rej.RoomID.String()).Str("reason", rej.Reason).Msg("Call rejected by peer")
		s.session.EndReason = domain.EndBusy
		s.fire(evRemoteReject)
	default:
		s.ignore(rej, "unexpected_state")
	}
}

func (s *CallService) onHangup(h domain.Hangup) {
	if !s.fromPeer(h) {
		return
	}
	switch s.session.Status {
	case domain.StatusRinging:
		s.log.Info().Str("room_id", h.RoomID.String()).Msg("Caller cancelled")
		s.session.EndReason = domain.EndCallerCancels
		s.fire(evCancelled)
	case domain.StatusCalling, domain.StatusConnected:
		s.log.Info().Str("room_id", h.RoomID.String()).Str("reason", h.Reason).Msg("Peer hung up")
		s.session.EndReason = domain.EndHangup
		s.fire(evRemoteHangup)
	default:
		s.ignore(h, "unexpected_state")
	}
}

func (s *CallService) onRemoteLeft(gen uint64) {
	if gen != s.gen {
		return
	}
	switch s.session.Status {
	case domain.StatusCalling, domain.StatusConnected:
		s.log.Info().Str("room_id", s.session.RoomID.String()).Msg("Peer left the media room")
		s.session.EndReason = domain.EndRemoteLeft
		s.fire(evRemoteHangup)
	}
}

// Initiate starts an outbound call.
func (s *CallService) Initiate(ctx context.Context, target domain.UserID, roomID domain.RoomID, kind domain.CallKind) error {
	if target.IsZero() || roomID.IsZero() {
		return fmt.Errorf("%w: target and room are required", ErrInvalidArgument)
	}
	if target == s.cfg.LocalUserID {
		return fmt.Errorf("%w: cannot call yourself", ErrInvalidArgument)
	}
	if _, err := domain.ParseCallKind(string(kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	return s.exec(ctx, func() error {
		if s.session.Status != domain.StatusIdle {
			return ErrBusy
		}
		s.beginSession(domain.CallSession{
			Kind:         kind,
			RoomID:       roomID,
			IsInitiator:  true,
			LocalUserID:  s.cfg.LocalUserID,
			RemoteUserID: target,
			StartedAt:    time.Now(),
		})
		if !s.fire(evInitiate) {
			return ErrBusy
		}
		if err := s.openMedia(); err != nil {
			s.session.EndReason = domain.EndMediaFailure
			s.fire(evFail)
			return err
		}
		s.send(target, domain.NewInvite(s.cfg.LocalUserID, roomID, target, kind))
		return nil
	})
}

// Answer accepts the ringing call.
func (s *CallService) Answer(ctx context.Context) error {
	return s.exec(ctx, func() error {
		if s.session.Status != domain.StatusRinging {
			return ErrNoIncomingCall
		}
		room, peer := s.session.RoomID, s.session.RemoteUserID
		if err := s.openMedia(); err != nil {
			s.send(peer, domain.NewHangup(s.cfg.LocalUserID, room, mediaFailureReason))
			s.session.EndReason = domain.EndMediaFailure
			s.fire(evFail)
			return err
		}
		s.prompt = false
		s.fire(evAnswer)
		s.send(peer, domain.NewAccept(s.cfg.LocalUserID, room))
		return nil
	})
}

// Reject declines the ringing call. It is a no-op once the session is
// already going away.
func (s *CallService) Reject(ctx context.Context) error {
	return s.exec(ctx, s.reject)
}

func (s *CallService) reject() error {
	switch s.session.Status {
	case domain.StatusRinging:
	case domain.StatusIdle, domain.StatusRejected, domain.StatusEnded:
		return nil
	default:
		return ErrNoIncomingCall
	}
	s.send(s.session.RemoteUserID, domain.NewReject(s.cfg.LocalUserID, s.session.RoomID, rejectReason))
	s.prompt = false
	s.session.EndReason = domain.EndRejected
	s.fire(evReject)
	return nil
}

// EndCall hangs up. While ringing it declines the call; with nothing
// active it does nothing.
func (s *CallService) EndCall(ctx context.Context) error {
	return s.exec(ctx, func() error {
		switch s.session.Status {
		case domain.StatusCalling, domain.StatusConnected:
			s.send(s.session.RemoteUserID, domain.NewHangup(s.cfg.LocalUserID, s.session.RoomID, ""))
			s.session.EndReason = domain.EndHangup
			s.fire(evEnd)
			return nil
		case domain.StatusRinging:
			return s.reject()
		}
		return nil
	})
}

// beginSession installs a fresh session. A teardown still pending from the
// previous session is applied right away.
func (s *CallService) beginSession(sess domain.CallSession) {
	if s.teardown != nil {
		s.teardown.Stop()
		s.teardown = nil
		s.media.Close()
		s.metrics.transition(s.fsm.Current(), st(domain.StatusIdle))
		s.metrics.tornDown()
		s.fsm.SetState(st(domain.StatusIdle))
		s.log.Warn().Msg("New session started before teardown fired")
	}
	s.gen++
	s.session = sess
	s.session.Status = domain.CallStatus(s.fsm.Current())
	s.profile = nil
	s.prompt = false
	s.notice = ""
}

func (s *CallService) fire(event string) bool {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			s.metrics.ignored("invalid_transition")
			s.log.Debug().Str("event", event).Str("status", s.fsm.Current()).Msg("Transition not allowed")
			return false
		}
		s.log.Error().Err(err).Str("event", event).Msg("State machine error")
		return false
	}
	return true
}

func (s *CallService) openMedia() error {
	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JoinTimeout)
	defer cancel()

	err := s.media.Open(ctx, s.session.RoomID, s.cfg.LocalUserID, s.cfg.LocalName, s.session.Kind, func() {
		s.post(func() { s.onRemoteLeft(gen) })
	})
	if err != nil {
		s.log.Error().Err(err).Str("room_id", s.session.RoomID.String()).Msg("Failed to open media session")
		return fmt.Errorf("open media: %w", err)
	}
	return nil
}

// send is fire-and-forget: failures are logged and never block the state
// from converging.
func (s *CallService) send(to domain.UserID, sig domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.signaling.Send(ctx, to, sig); err != nil {
		s.metrics.sendFailed(sig.Type().String())
		s.log.Warn().Err(err).
			Str("signal", sig.Type().String()).
			Str("to", to.String()).
			Str("room_id", sig.Room().String()).
			Msg("Failed to send signal")
	}
}

// cleanup runs on entry to rejected or ended. The media engine is torn
// down after TeardownDelay, once the presentation layer has had a chance
// to unmount the media surface.
func (s *CallService) cleanup() {
	if s.teardown != nil {
		return
	}
	s.prompt = false
	s.notice = s.session.EndReason.Notice()

	gen := s.gen
	s.teardown = time.AfterFunc(s.cfg.TeardownDelay, func() {
		s.post(func() { s.finishTeardown(gen) })
	})
}

func (s *CallService) finishTeardown(gen uint64) {
	if gen != s.gen || !s.session.Status.Terminating() {
		return
	}
	s.teardown = nil
	if s.media.Close() {
		s.log.Debug().Str("room_id", s.session.RoomID.String()).Msg("Media session closed")
	}
	s.profile = nil
	s.prompt = false
	s.session = domain.CallSession{Status: s.session.Status, LocalUserID: s.cfg.LocalUserID}
	s.metrics.tornDown()
	s.fire(evReset)
}

// resolveProfile looks the caller up off the Run goroutine. The result is
// applied only if the same inbound session is still ringing or connected.
func (s *CallService) resolveProfile(gen uint64, roomID domain.RoomID, caller domain.UserID) {
	if s.directory == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DirectoryTimeout)
		defer cancel()
		profile, err := s.directory.Resolve(ctx, caller)

		s.post(func() {
			if err != nil {
				s.metrics.profileLookup("error")
				s.log.Warn().Err(err).Str("caller_id", caller.String()).Msg("Caller lookup failed, keeping placeholder")
				return
			}
			current := gen == s.gen && roomID == s.session.RoomID
			if !current || (s.session.Status != domain.StatusRinging && s.session.Status != domain.StatusConnected) {
				s.metrics.profileLookup("stale")
				s.log.Debug().Str("caller_id", caller.String()).Str("room_id", roomID.String()).Msg("Discarding caller profile for finished session")
				return
			}
			profile.UserID = caller
			s.profile = &profile
			s.metrics.profileLookup("resolved")
			s.publish()
		})
	}()
}
