package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaHandle_OpenOnce(t *testing.T) {
	engine := &fakeEngine{}
	h := NewMediaHandle(engine, time.Second)
	ctx := context.Background()

	require.NoError(t, h.Open(ctx, "42", "1", "Local", domain.KindAudio, nil))
	assert.True(t, h.IsOpen())
	assert.Equal(t, domain.RoomID("42"), h.Room())

	err := h.Open(ctx, "43", "1", "Local", domain.KindAudio, nil)
	assert.ErrorIs(t, err, ErrMediaAlreadyOpen)
	assert.Len(t, engine.joinCalls(), 1)
}

func TestMediaHandle_CloseIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	h := NewMediaHandle(engine, time.Second)
	require.NoError(t, h.Open(context.Background(), "42", "1", "Local", domain.KindVideo, nil))

	assert.True(t, h.Close())
	assert.False(t, h.Close())
	assert.False(t, h.IsOpen())
	assert.Empty(t, h.Room())

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(1), engine.session(0).leaves.Load())
}

func TestMediaHandle_CloseWithoutOpen(t *testing.T) {
	h := NewMediaHandle(&fakeEngine{}, time.Second)
	assert.False(t, h.Close())
	assert.NoError(t, h.Wait(context.Background()))
}

func TestMediaHandle_LeaveErrorIsSwallowed(t *testing.T) {
	engine := &fakeEngine{}
	h := NewMediaHandle(engine, time.Second)
	require.NoError(t, h.Open(context.Background(), "42", "1", "Local", domain.KindAudio, nil))
	engine.session(0).leaveErr = errBoom

	assert.True(t, h.Close())
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(1), engine.session(0).leaves.Load())
}

func TestMediaHandle_JoinFailure(t *testing.T) {
	engine := &fakeEngine{joinErr: errBoom}
	h := NewMediaHandle(engine, time.Second)

	err := h.Open(context.Background(), "42", "1", "Local", domain.KindAudio, nil)
	require.ErrorIs(t, err, errBoom)
	assert.False(t, h.IsOpen())

	engine.setJoinErr(nil)
	assert.NoError(t, h.Open(context.Background(), "42", "1", "Local", domain.KindAudio, nil))
}

func TestMediaHandle_RemoteLeftFiresOnce(t *testing.T) {
	engine := &fakeEngine{}
	h := NewMediaHandle(engine, time.Second)
	var fired atomic.Int32
	require.NoError(t, h.Open(context.Background(), "42", "1", "Local", domain.KindAudio, func() { fired.Add(1) }))
	sess := engine.session(0)

	sess.remoteLeft()
	sess.remoteLeft()
	assert.Equal(t, int32(1), fired.Load())

	assert.True(t, h.IsOpen(), "the peer leaving does not close our side")
}

func TestMediaHandle_RemoteLeftAfterCloseDropped(t *testing.T) {
	engine := &fakeEngine{}
	h := NewMediaHandle(engine, time.Second)
	var fired atomic.Int32
	require.NoError(t, h.Open(context.Background(), "42", "1", "Local", domain.KindAudio, func() { fired.Add(1) }))

	h.Close()
	engine.session(0).remoteLeft()
	assert.Equal(t, int32(0), fired.Load())
}

func TestMediaHandle_WaitHonoursContext(t *testing.T) {
	h := NewMediaHandle(&fakeEngine{}, time.Second)
	h.leaving.Add(1)
	defer h.leaving.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}
