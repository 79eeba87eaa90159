package models

import "time"

// SessionRecord tracks one login session. At most one active session exists
// per actor; a closed session never becomes active again.
type SessionRecord struct {
	ID           int64      `json:"id"`
	ActorID      int64      `json:"actor_id"`
	SessionToken string     `json:"session_token"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Active       bool       `json:"active"`
}

// PositionEvent is the outbound Kafka event published after a position
// mutation. Publishing is best-effort; consumers must tolerate gaps.
type PositionEvent struct {
	EventType  string    `json:"event_type"`
	OwnerID    int64     `json:"owner_id"`
	PositionID int64     `json:"position_id"`
	Position   *Position `json:"position,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
