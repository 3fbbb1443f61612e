// Package cronexpr wraps robfig/cron's standard parser behind a narrow
// interface so the governor depends on an abstraction, not the library
// directly — the same separation the teacher's dispatcher.computeNext
// folded inline; here it is pulled out so it can be swapped with a fake
// in governor property tests.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron computes the next fire time for a standard 5-field cron expression.
type Cron interface {
	Next(expr string, after time.Time) (time.Time, error)
}

// Standard is the production implementation backed by robfig/cron's
// standard (5-field) parser.
type Standard struct{}

func (Standard) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}
