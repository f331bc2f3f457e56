// Package signaling holds the JSON envelope every signaling transport
// puts on the wire.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var ErrUnknownSignal = errors.New("unknown signal type")

type Envelope struct {
	To       string  `json:"to"`
	Type     string  `json:"type"`
	SenderID string  `json:"sender_id"`
	RoomID   string  `json:"room_id"`
	Payload  Payload `json:"payload"`
}

type Payload struct {
	TargetUserID string `json:"target_user_id,omitempty"`
	CallKind     string `json:"call_kind,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func NewEnvelope(to domain.UserID, sig domain.Signal) (Envelope, error) {
	if sig == nil {
		return Envelope{}, domain.ErrInvalidSignal
	}
	env := Envelope{
		To:       to.String(),
		SenderID: sig.Sender().String(),
		RoomID:   sig.Room().String(),
	}
	switch sig := sig.(type) {
	case domain.Invite:
		env.Type = string(domain.SignalInvite)
		env.Payload.TargetUserID = sig.TargetUserID.String()
		env.Payload.CallKind = sig.Kind.String()
	case domain.Accept:
		env.Type = string(domain.SignalAccept)
	case domain.Reject:
		env.Type = string(domain.SignalReject)
		env.Payload.Reason = sig.Reason
	case domain.Hangup:
		env.Type = string(domain.SignalHangup)
		env.Payload.Reason = sig.Reason
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownSignal, sig)
	}
	return env, nil
}

// Signal converts the envelope back into a validated domain signal.
func (e Envelope) Signal() (domain.Signal, error) {
	sender := domain.UserID(e.SenderID)
	room := domain.RoomID(e.RoomID)

	var sig domain.Signal
	switch domain.SignalType(e.Type) {
	case domain.SignalInvite:
		kind, err := domain.ParseCallKind(e.Payload.CallKind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
		}
		sig = domain.NewInvite(sender, room, domain.UserID(e.Payload.TargetUserID), kind)
	case domain.SignalAccept:
		sig = domain.NewAccept(sender, room)
	case domain.SignalReject:
		sig = domain.NewReject(sender, room, e.Payload.Reason)
	case domain.SignalHangup:
		sig = domain.NewHangup(sender, room, e.Payload.Reason)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, e.Type)
	}

	if err := domain.ValidateSignal(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

func (e Envelope) Recipient() domain.UserID {
	return domain.UserID(e.To)
}

func Encode(to domain.UserID, sig domain.Signal) ([]byte, error) {
	env, err := NewEnvelope(to, sig)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Decode(data []byte) (domain.UserID, domain.Signal, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	sig, err := env.Signal()
	if err != nil {
		return "", nil, err
	}
	return env.Recipient(), sig, nil
}
