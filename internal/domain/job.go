package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobNotOwned = errors.New("job does not belong to user")
)

// JobStatus is the lifecycle state of a Job container.
type JobStatus string

const (
	JobActive   JobStatus = "active"
	JobPaused   JobStatus = "paused"
	JobArchived JobStatus = "archived"
)

// Job is an organizational grouping of endpoints; it does not itself run.
// Archiving or deleting one cascades to its endpoints, which in turn
// cascades to their runs and sessions.
type Job struct {
	ID          string
	UserID      string
	Name        string
	Description *string
	Status      JobStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
