package domain

import "errors"

type SignalType string

const (
	SignalInvite SignalType = "INVITE"
	SignalAccept SignalType = "ACCEPT"
	SignalReject SignalType = "REJECT"
	SignalHangup SignalType = "HANGUP"
)

func (t SignalType) String() string {
	return string(t)
}

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is one of Invite, Accept, Reject or Hangup.
type Signal interface {
	Type() SignalType
	Sender() UserID
	Room() RoomID
	isSignal()
}

// SignalHeader carries the fields every signal has.
type SignalHeader struct {
	SenderID UserID
	RoomID   RoomID
}

func (h SignalHeader) Sender() UserID { return h.SenderID }
func (h SignalHeader) Room() RoomID   { return h.RoomID }
func (SignalHeader) isSignal()        {}

type Invite struct {
	SignalHeader
	TargetUserID UserID
	Kind         CallKind
}

type Accept struct {
	SignalHeader
}

type Reject struct {
	SignalHeader
	Reason string
}

type Hangup struct {
	SignalHeader
	Reason string
}

func (Invite) Type() SignalType { return SignalInvite }
func (Accept) Type() SignalType { return SignalAccept }
func (Reject) Type() SignalType { return SignalReject }
func (Hangup) Type() SignalType { return SignalHangup }

func NewInvite(sender UserID, room RoomID, target UserID, kind CallKind) Invite {
	return Invite{SignalHeader: SignalHeader{SenderID: sender, RoomID: room}, TargetUserID: target, Kind: kind}
}

func NewAccept(sender UserID, room RoomID) Accept {
	return Accept{SignalHeader: SignalHeader{SenderID: sender, RoomID: room}}
}

func NewReject(sender UserID, room RoomID, reason string) Reject {
	return Reject{SignalHeader: SignalHeader{SenderID: sender, RoomID: room}, Reason: reason}
}

func NewHangup(sender UserID, room RoomID, reason string) Hangup {
	return Hangup{SignalHeader: SignalHeader{SenderID: sender, RoomID: room}, Reason: reason}
}

// ValidateSignal checks the fields a receiver relies on.
func ValidateSignal(sig Signal) error {
	if sig == nil {
		return ErrInvalidSignal
	}
	if sig.Sender().IsZero() || sig.Room().IsZero() {
		return ErrInvalidSignal
	}
	if inv, ok := sig.(Invite); ok {
		if inv.TargetUserID.IsZero() {
			return ErrInvalidSignal
		}
		if _, err := ParseCallKind(string(inv.Kind)); err != nil {
			return ErrInvalidSignal
		}
	}
	return nil
}
