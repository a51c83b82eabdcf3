package models

import "time"

// User represents a person the assistant has spoken with. Users live in the
// graph store; the platform-assigned ID is the stable key, everything else may
// change over time.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Alias      string    `json:"alias,omitempty"`       // preferred name, set via "call me X"
	OtherNames []string  `json:"other_names,omitempty"` // previous aliases, kept for mention rewriting
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// DisplayName returns the name the assistant should use when addressing the
// user: the alias when one is set, the platform username otherwise.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Alias != "" {
		return u.Alias
	}
	return u.Username
}

// UserProfile is the assembled view of a user handed to the decision loop. A
// zero-value profile is valid and means "nothing known yet".
type UserProfile struct {
	User  User    `json:"user"`
	Facts []*Fact `json:"facts,omitempty"` // profile-level facts about this user
}
