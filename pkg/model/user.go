package model

import (
	"errors"
	"fmt"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 16
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameLength = fmt.Errorf("username must be %d to %d characters", MinUsernameLength, MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters or underscores")

// User is a connected user as seen through the routing layer.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// ValidateUsername checks that a name looks like a network username:
// 3-16 ASCII alphanumeric or underscore characters.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) < MinUsernameLength || len(name) > MaxUsernameLength {
		return ErrUsernameLength
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
