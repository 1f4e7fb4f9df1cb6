package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive    = errors.New("coordinator: user already has an active screenshare session")
	ErrAlreadyOnTarget  = errors.New("coordinator: user is already on the target endpoint")
	ErrLocationUnknown  = errors.New("coordinator: could not determine the user's current endpoint")
	ErrNoActiveSession  = errors.New("coordinator: user has no active screenshare session")
	ErrSelfTarget       = errors.New("coordinator: requester cannot target themselves")
	ErrUserOffline      = errors.New("coordinator: user is not online")
	ErrNoTargetEndpoint = errors.New("coordinator: target endpoint must not be empty")
	ErrShuttingDown     = errors.New("coordinator: shutting down")
)

// AlreadyActiveError is returned by Start when the user is already away. It
// matches ErrAlreadyActive under errors.Is.
type AlreadyActiveError struct {
	Origin string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("%s (origin %q)", ErrAlreadyActive.Error(), e.Origin)
}

func (e *AlreadyActiveError) Is(target error) bool {
	return target == ErrAlreadyActive
}
