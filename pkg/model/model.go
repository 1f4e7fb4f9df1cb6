// Package model defines the core domain types for the screenshare coordinator.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// UserID is the stable identity of a user on the proxied network. Display
// names are tracked separately and may change between connections.
type UserID = uuid.UUID

// NilUser is the zero UserID.
var NilUser = uuid.Nil

// ParseUserID parses the canonical (dashed or undashed) form of a UserID.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilUser, fmt.Errorf("model: parse user id %q: %w", s, err)
	}
	return id, nil
}

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermViewSessions Permission = iota
	PermViewHistory
	PermViewInfo
	PermStartSession
	PermEndSession
)

func (p Permission) String() string {
	switch p {
	case PermViewSessions:
		return "view_sessions"
	case PermViewHistory:
		return "view_history"
	case PermViewInfo:
		return "view_info"
	case PermStartSession:
		return "start_session"
	case PermEndSession:
		return "end_session"
	default:
		return "unknown"
	}
}
