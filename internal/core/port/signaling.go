package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// SignalingChannel is a best-effort, at-most-once, unordered pub/sub
// channel keyed by user identity. Signals addressed to the local user are
// handed to the single registered handler.
type SignalingChannel interface {
	Send(ctx context.Context, to domain.UserID, sig domain.Signal) error
	SetHandler(h func(sig domain.Signal))
	Close() error
}
