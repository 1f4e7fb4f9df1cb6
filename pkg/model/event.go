package model

import "time"

// EventKind classifies journal entries.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventEnded        EventKind = "ended"
	EventDisconnected EventKind = "disconnected"
	EventRejected     EventKind = "rejected"
	EventCommand      EventKind = "command"
)

// Event is one append-only journal entry describing what the coordinator did.
type Event struct {
	ID        int64     `json:"id" yaml:"id"`
	Kind      EventKind `json:"kind" yaml:"kind"`
	UserID    UserID    `json:"user_id" yaml:"user_id"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	Requester string    `json:"requester,omitempty" yaml:"requester,omitempty"`
	Origin    string    `json:"origin,omitempty" yaml:"origin,omitempty"`
	Target    string    `json:"target,omitempty" yaml:"target,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At        time.Time `json:"at" yaml:"at"`
}

type EventFilters struct {
	LimitToUserID *UserID
	LimitToKind   *EventKind
	PageSize      *int64
	Offset        *int64
}
