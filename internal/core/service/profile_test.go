package service

import (
	"context"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileService(t *testing.T) {
	repo := newFakeProfileRepo()
	s := NewProfileService(repo)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "3", "Carol", "https://example.com/c.png"))

	p, err := s.Resolve(ctx, "3")
	require.NoError(t, err)
	assert.True(t, p.Resolved())
	assert.Equal(t, domain.UserID("3"), p.UserID)
	assert.Equal(t, "Carol", p.Name())
	assert.Equal(t, "https://example.com/c.png", p.AvatarURL())

	_, err = s.Lookup(ctx, "4")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	_, err = s.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, s.Register(ctx, "5", "", ""), ErrInvalidArgument)

	repo.err = errBoom
	_, err = s.Lookup(ctx, "3")
	assert.ErrorIs(t, err, errBoom)
}
