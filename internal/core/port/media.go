package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MediaEngine interface {
	Join(ctx context.Context, roomID domain.RoomID, participantID domain.UserID, participantName string, kind domain.CallKind) (MediaSession, error)
}

// MediaSession is one joined media room.
type MediaSession interface {
	Leave(ctx context.Context) error
	// OnRemoteLeft fires when the peer leaves the room without signaling.
	OnRemoteLeft(fn func())
}

// MediaRoom is the server-side room relay participants exchange SDP with.
type MediaRoom interface {
	Join(roomID domain.RoomID, participantID domain.UserID, offerSDP string) (answerSDP string, err error)
	Leave(roomID domain.RoomID, participantID domain.UserID)
}
