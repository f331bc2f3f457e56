package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallerDirectory interface {
	Resolve(ctx context.Context, userID domain.UserID) (domain.CallerProfile, error)
}
