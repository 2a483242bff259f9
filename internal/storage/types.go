package storage

import (
	"errors"
	"time"

	"remindd/internal/reminder"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": dependency-free in-process backend (tests, dev)
//   - "sqlite": SQLite database file
//   - "dynamo": DynamoDB table
type Config struct {
	Driver      string
	Path        string        // sqlite only
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Dynamo settings.
	Table      string
	Region     string
	Endpoint   string // optional override (local dynamo)
	OwnerIndex string // GSI name for owner queries; default "owner-index"
}

// Mutation describes the fields a conditional update may change.
// Nil pointers leave the stored value untouched. UpdatedAt is always written.
type Mutation struct {
	State      *reminder.State
	RetryCount *int
	Message    *string
	FireAt     *time.Time
	UpdatedAt  time.Time
}
