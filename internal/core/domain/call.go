package domain

import (
	"fmt"
	"time"
)

type CallStatus string

const (
	StatusIdle      CallStatus = "idle"
	StatusCalling   CallStatus = "calling"   // we sent an invite
	StatusRinging   CallStatus = "ringing"   // someone invited us
	StatusConnected CallStatus = "connected"
	StatusRejected  CallStatus = "rejected"
	StatusEnded     CallStatus = "ended"
)

func (s CallStatus) String() string {
	return string(s)
}

// Active reports whether a session exists in this status.
func (s CallStatus) Active() bool {
	return s != StatusIdle
}

// Terminating reports whether the session is waiting for its deferred
// teardown to bring it back to idle.
func (s CallStatus) Terminating() bool {
	return s == StatusRejected || s == StatusEnded
}

func (s CallStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusCalling, StatusRinging, StatusConnected, StatusRejected, StatusEnded:
		return true
	}
	return false
}

type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

func ParseCallKind(s string) (CallKind, error) {
	switch CallKind(s) {
	case KindAudio, KindVideo:
		return CallKind(s), nil
	}
	return "", fmt.Errorf("unknown call kind %q", s)
}

func (k CallKind) String() string {
	return string(k)
}

// EndReason tells the presentation layer why the last session stopped.
type EndReason string

const (
	EndNone          EndReason = ""
	EndRejected      EndReason = "rejected"       // local user declined
	EndBusy          EndReason = "busy"           // remote declined
	EndHangup        EndReason = "hangup"         // either side hung up
	EndRemoteLeft    EndReason = "remote_left"    // peer dropped out of the media room
	EndMediaFailure  EndReason = "media_failure"  // local media could not be opened
	EndCallerCancels EndReason = "caller_cancels" // caller gave up while we were ringing
)

// Notice is the transient text shown once a session ends.
func (r EndReason) Notice() string {
	switch r {
	case EndBusy:
		return "user is busy"
	case EndMediaFailure:
		return "media unavailable"
	case EndRejected, EndCallerCancels:
		return "call declined"
	case EndHangup, EndRemoteLeft:
		return "call ended"
	}
	return ""
}

// CallSession is the single mutable call record. Only the call service
// touches it; everything else sees a Snapshot.
type CallSession struct {
	Status       CallStatus
	Kind         CallKind
	RoomID       RoomID
	IsInitiator  bool
	LocalUserID  UserID
	RemoteUserID UserID
	StartedAt    time.Time
	EndReason    EndReason
}

// Snapshot is what the presentation layer renders from.
type Snapshot struct {
	Version        uint64         `json:"version"`
	Status         CallStatus     `json:"status"`
	Kind           CallKind       `json:"call_kind,omitempty"`
	RemoteUserID   UserID         `json:"remote_user_id,omitempty"`
	IncomingPrompt bool           `json:"incoming_prompt"`
	Profile        *CallerProfile `json:"caller_profile,omitempty"`
	Notice         string         `json:"notice,omitempty"`
	StartedAt      time.Time      `json:"started_at,omitzero"`
}
