package jobstore

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("job store disabled")

	// ErrJobExists enforces the one-job-per-user invariant at the store
	// boundary, so concurrent start attempts cannot both win.
	ErrJobExists = errors.New("job already active for user")

	ErrNoJob = errors.New("no active job for user")
)

// Config configures job persistence.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the durable per-user state of an in-flight transfer job.
// Exactly one Record exists per user while a batch or single job runs.
type Record struct {
	UserID    int64     `json:"user_id"`
	Total     int       `json:"total"`
	Current   int       `json:"current"`
	Success   int       `json:"success"`
	Cancel    bool      `json:"cancel_requested"`
	Anchor    int       `json:"anchor_message_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	// Progress surface: the chat message the orchestrator keeps editing.
	ProgressChatID int64 `json:"progress_chat_id,omitempty"`
	ProgressMsgID  int   `json:"progress_msg_id,omitempty"`
}

func (r Record) validate() error {
	if r.UserID == 0 {
		return errors.New("job record: user id is required")
	}
	if r.Total <= 0 {
		return errors.New("job record: total must be positive")
	}
	return nil
}
