package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// ProfileService serves caller profiles from a repository. It also
// satisfies port.CallerDirectory for single-process setups.
type ProfileService struct {
	repo port.ProfileRepository
}

func NewProfileService(repo port.ProfileRepository) *ProfileService {
	return &ProfileService{repo: repo}
}

func (s *ProfileService) Lookup(ctx context.Context, id domain.UserID) (domain.CallerProfile, error) {
	if id.IsZero() {
		return domain.CallerProfile{}, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.CallerProfile{}, err
	}
	return p, nil
}

func (s *ProfileService) Register(ctx context.Context, id domain.UserID, name, avatarURL string) error {
	if id.IsZero() || name == "" {
		return fmt.Errorf("%w: user id and name are required", ErrInvalidArgument)
	}
	return s.repo.Save(ctx, domain.ResolvedProfile(id, name, avatarURL))
}

func (s *ProfileService) Resolve(ctx context.Context, id domain.UserID) (domain.CallerProfile, error) {
	return s.Lookup(ctx, id)
}
