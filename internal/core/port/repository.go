package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ProfileRepository interface {
	FindByID(ctx context.Context, id domain.UserID) (domain.CallerProfile, error)
	Save(ctx context.Context, profile domain.CallerProfile) error
}
