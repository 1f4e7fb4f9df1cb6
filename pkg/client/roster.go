package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

// RosterEntry is a simulated user loaded from a roster file.
type RosterEntry struct {
	Name     string       `yaml:"name"`
	ID       model.UserID `yaml:"id,omitempty"`
	Endpoint string       `yaml:"endpoint"`
	Silent   bool         `yaml:"silent,omitempty"`
}

// User returns the entry as a model.User, deriving the id from the name when
// none is pinned.
func (e RosterEntry) User() model.User {
	id := e.ID
	if id == model.NilUser {
		id = OfflineID(e.Name)
	}
	return model.User{ID: id, Username: e.Name}
}

// Roster is the YAML file the proxysim command joins users from.
type Roster struct {
	Users []RosterEntry `yaml:"users"`
}

// LoadRoster reads a roster. A missing file is an empty roster.
func LoadRoster(path string) (*Roster, error) {
	r := &Roster{}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("client: parse roster: %w", err)
	}
	return r, r.Validate()
}

// Validate checks names and endpoints.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Users))
	for i, e := range r.Users {
		if err := model.ValidateUsername(e.Name); err != nil {
			return fmt.Errorf("client: roster user %d (%q): %w", i, e.Name, err)
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			return fmt.Errorf("client: roster user %q listed twice", e.Name)
		}
		seen[key] = true
		if strings.TrimSpace(e.Endpoint) == "" {
			return fmt.Errorf("client: roster user %q has no endpoint", e.Name)
		}
	}
	return nil
}

// Save writes the roster as YAML.
func (r *Roster) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Add adds or updates an entry by name. Returns true if it was a new entry.
func (r *Roster) Add(e RosterEntry) bool {
	for i, existing := range r.Users {
		if strings.EqualFold(existing.Name, e.Name) {
			r.Users[i] = e
			return false
		}
	}
	r.Users = append(r.Users, e)
	return true
}

// JoinAll joins every roster user through p. It stops at the first failure.
func (r *Roster) JoinAll(ctx context.Context, p *Proxy) error {
	for _, e := range r.Users {
		u := e.User()
		if err := p.Join(ctx, u, e.Endpoint); err != nil {
			return fmt.Errorf("join %s: %w", e.Name, err)
		}
		if e.Silent {
			if err := p.SetSilent(u.ID, true); err != nil {
				return err
			}
		}
	}
	return nil
}
