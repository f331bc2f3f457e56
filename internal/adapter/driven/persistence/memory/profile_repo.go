package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ProfileRepository struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.CallerProfile
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{
		profiles: make(map[domain.UserID]domain.CallerProfile),
	}
}

func (r *ProfileRepository) FindByID(ctx context.Context, id domain.UserID) (domain.CallerProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return domain.CallerProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile domain.CallerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.UserID] = profile
	return nil
}
