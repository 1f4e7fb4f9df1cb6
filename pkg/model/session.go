package model

import "time"

// Session records a user relocated to the target endpoint and the endpoint
// they must be returned to (in-memory only).
type Session struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username"`
	Requester string    `json:"requester"`
	Origin    string    `json:"origin"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}
