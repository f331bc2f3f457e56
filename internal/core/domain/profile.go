package domain

import (
	"encoding/json"
	"errors"
)

const PendingProfileName = "loading"

type ProfileState int

const (
	ProfilePending ProfileState = iota
	ProfileResolved
)

// CallerProfile is either Pending (lookup in flight or failed) or
// Resolved. Construct it with PendingProfile or ResolvedProfile.
type CallerProfile struct {
	UserID    UserID
	State     ProfileState
	name      string
	avatarURL string
}

func PendingProfile(id UserID) CallerProfile {
	return CallerProfile{UserID: id, State: ProfilePending}
}

func ResolvedProfile(id UserID, name, avatarURL string) CallerProfile {
	return CallerProfile{UserID: id, State: ProfileResolved, name: name, avatarURL: avatarURL}
}

func (p CallerProfile) Resolved() bool {
	return p.State == ProfileResolved
}

// Name is the display name, "loading" until resolved.
func (p CallerProfile) Name() string {
	if !p.Resolved() {
		return PendingProfileName
	}
	return p.name
}

func (p CallerProfile) AvatarURL() string {
	if !p.Resolved() {
		return ""
	}
	return p.avatarURL
}

func (p CallerProfile) MarshalJSON() ([]byte, error) {
	type profileDTO struct {
		UserID    string `json:"user_id"`
		Resolved  bool   `json:"resolved"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}
	return json.Marshal(profileDTO{
		UserID:    p.UserID.String(),
		Resolved:  p.Resolved(),
		Name:      p.Name(),
		AvatarURL: p.AvatarURL(),
	})
}

var ErrProfileNotFound = errors.New("profile not found")
