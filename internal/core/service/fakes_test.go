package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type sentSignal struct {
	to  domain.UserID
	sig domain.Signal
}

type fakeSignaling struct {
	mu      sync.Mutex
	sent    []sentSignal
	handler func(domain.Signal)
	sendErr error
}

func (f *fakeSignaling) Send(_ context.Context, to domain.UserID, sig domain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentSignal{to: to, sig: sig})
	return f.sendErr
}

func (f *fakeSignaling) SetHandler(h func(domain.Signal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeSignaling) Close() error { return nil }

func (f *fakeSignaling) deliver(sig domain.Signal) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(sig)
}

func (f *fakeSignaling) sentSignals() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSignal(nil), f.sent...)
}

func (f *fakeSignaling) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

type joinCall struct {
	room        domain.RoomID
	participant domain.UserID
	name        string
	kind        domain.CallKind
}

type fakeEngine struct {
	mu       sync.Mutex
	joins    []joinCall
	sessions []*fakeSession
	joinErr  error
}

func (f *fakeEngine) Join(_ context.Context, roomID domain.RoomID, participantID domain.UserID, participantName string, kind domain.CallKind) (port.MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, joinCall{room: roomID, participant: participantID, name: participantName, kind: kind})
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	s := &fakeSession{}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeEngine) joinCalls() []joinCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]joinCall(nil), f.joins...)
}

func (f *fakeEngine) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

func (f *fakeEngine) setJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

type fakeSession struct {
	leaves   atomic.Int32
	leaveErr error

	mu           sync.Mutex
	onRemoteLeft func()
}

func (s *fakeSession) Leave(context.Context) error {
	s.leaves.Add(1)
	return s.leaveErr
}

func (s *fakeSession) OnRemoteLeft(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteLeft = fn
}

func (s *fakeSession) remoteLeft() {
	s.mu.Lock()
	fn := s.onRemoteLeft
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// gatedDirectory answers Resolve only after release is closed.
type gatedDirectory struct {
	release  chan struct{}
	profiles map[domain.UserID]domain.CallerProfile
	calls    atomic.Int32
}

func newGatedDirectory() *gatedDirectory {
	return &gatedDirectory{
		release:  make(chan struct{}),
		profiles: make(map[domain.UserID]domain.CallerProfile),
	}
}

func (d *gatedDirectory) Resolve(ctx context.Context, id domain.UserID) (domain.CallerProfile, error) {
	d.calls.Add(1)
	select {
	case <-d.release:
	case <-ctx.Done():
		return domain.CallerProfile{}, ctx.Err()
	}
	p, ok := d.profiles[id]
	if !ok {
		return domain.CallerProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

var errBoom = errors.New("boom")

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[domain.UserID]domain.CallerProfile
	err      error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[domain.UserID]domain.CallerProfile)}
}

func (r *fakeProfileRepo) FindByID(_ context.Context, id domain.UserID) (domain.CallerProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.CallerProfile{}, r.err
	}
	p, ok := r.profiles[id]
	if !ok {
		return domain.CallerProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (r *fakeProfileRepo) Save(_ context.Context, p domain.CallerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.profiles[p.UserID] = p
	return nil
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (g *fakeGateway) SendSignal(_ context.Context, to domain.UserID, sig domain.Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, sentSignal{to: to, sig: sig})
	return nil
}
