package ws

import (
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/core/domain"
)

type Client interface {
	UserID() domain.UserID
	SendEnvelope(env signaling.Envelope) error
	Ping() error
	Close() error
}
