package domain

import (
	"github.com/google/uuid"
)

// UserID and RoomID are opaque on the wire. Peers may use any non-empty
// string; ids minted locally are uuids.
type UserID string
type RoomID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

func (id UserID) IsZero() bool {
	return id == ""
}

func (id RoomID) IsZero() bool {
	return id == ""
}
