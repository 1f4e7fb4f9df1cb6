package model

import "time"

// APIToken grants a role on the admin API. Only the argon2 hash of the raw
// token is kept in configuration.
type APIToken struct {
	Name      string    `json:"name" yaml:"name" toml:"name"`
	Hash      string    `json:"-" yaml:"hash" toml:"hash"`
	Role      Role      `json:"role" yaml:"role" toml:"role"`
	ExpiresAt time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty" toml:"expires_at,omitempty"`
}

// IsExpired returns true if the token has expired at now.
func (t *APIToken) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}
