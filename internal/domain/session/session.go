// Package session defines the session control state and lifecycle types.
package session

import "time"

// RuntimeStatus is the externally observed state of a session's
// orchestration instance.
type RuntimeStatus string

const (
	StatusRunning    RuntimeStatus = "running"
	StatusCompleted  RuntimeStatus = "completed"
	StatusTerminated RuntimeStatus = "terminated"
	StatusFailed     RuntimeStatus = "failed"
)

// Terminal reports whether the status will never transition again.
// A terminal session is never resumed; callers receive a successor instead.
func (s RuntimeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusTerminated || s == StatusFailed
}

// Session is the lightweight control state of one conversation.
// History and field values live in separate entities keyed by the same ID
// so that replaying the orchestration does not rehydrate the full transcript.
type Session struct {
	ID              string        `json:"id"`
	FormCode        string        `json:"form_code"`
	Version         string        `json:"version"`
	LastMessage     string        `json:"last_message,omitempty"`
	Token           string        `json:"token,omitempty"`
	TokenExpiration time.Time     `json:"token_expiration,omitzero"`
	Command         string        `json:"command,omitempty"`
	Status          RuntimeStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Snapshot is the status view exposed to concurrent readers while the
// orchestration instance is still running.
type Snapshot struct {
	FormCode        string    `json:"form_code"`
	Version         string    `json:"version"`
	LastMessage     string    `json:"last_message,omitempty"`
	Token           string    `json:"token,omitempty"`
	TokenExpiration time.Time `json:"token_expiration,omitzero"`
}

// Mapping records the replacement of a terminal session by its successor.
type Mapping struct {
	OldID     string    `json:"old_id"`
	NewID     string    `json:"new_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StartRequest is the request body for creating a session.
type StartRequest struct {
	FormCode string `json:"form_code"`
	Version  string `json:"version"`
}
