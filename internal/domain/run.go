package domain

import (
	"errors"
	"time"
)

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrRunAlreadyFinished = errors.New("run has already transitioned to a terminal state")
)

// RunStatus is the lifecycle state of a single execution attempt.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// Run is one attempt to execute one endpoint. It is created in RunRunning
// and transitions exactly once to a terminal status via Finish.
type Run struct {
	ID         string
	EndpointID string
	Attempt    int
	Source     Source

	StartedAt time.Time

	FinishedAt   *time.Time
	DurationMs   *int64
	Status       RunStatus
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	ErrorDetails *string
}

// Finish transitions a running run to a terminal state exactly once.
func (r *Run) Finish(now time.Time, status RunStatus, durationMs int64, statusCode *int, responseBody, errMsg, errDetails *string) error {
	if r.Status != RunRunning {
		return ErrRunAlreadyFinished
	}
	r.FinishedAt = &now
	r.DurationMs = &durationMs
	r.Status = status
	r.StatusCode = statusCode
	r.ResponseBody = responseBody
	r.ErrorMessage = errMsg
	r.ErrorDetails = errDetails
	return nil
}
