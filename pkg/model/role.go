package model

import (
	"errors"
	"fmt"
)

// Role represents an operator's permission level on the admin API.
type Role int

const (
	RoleViewer   Role = iota // Read-only: sessions, history, info
	RoleOperator             // Can start and end screenshare sessions
	RoleAdmin                // Everything
)

var ErrInvalidRole = errors.New("invalid role: must be viewer, operator, or admin")

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role. Unknown names map to RoleViewer.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "operator":
		return RoleOperator
	default:
		return RoleViewer
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleAdmin
}

// MarshalText renders the role name so config files and API payloads carry
// "operator" instead of 1.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrInvalidRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText is strict, unlike ParseRole.
func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "viewer":
		*r = RoleViewer
	case "operator":
		*r = RoleOperator
	case "admin":
		*r = RoleAdmin
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, string(text))
	}
	return nil
}
