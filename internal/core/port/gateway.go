package port

import (
	"context"
	"errors"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RealTimeGateway delivers signals to users connected to this server.
type RealTimeGateway interface {
	SendSignal(ctx context.Context, to domain.UserID, sig domain.Signal) error
}

// ErrRecipientOffline is returned by SendSignal when nobody is connected
// under the recipient id.
var ErrRecipientOffline = errors.New("recipient offline")
