package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is the duration above which a timed operation is logged as a warning.
const DefaultSlowThreshold = 30 * time.Second

// Timer measures one operation and logs its duration when stopped
type Timer struct {
	start time.Time
	name  string
	slow  time.Duration
	log   zerolog.Logger
}

// NewTimer starts a timer for the named operation
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		slow:  DefaultSlowThreshold,
		log:   log,
	}
}

// SetSlowThreshold changes the warning threshold. Zero disables the warning.
func (t *Timer) SetSlowThreshold(d time.Duration) {
	t.slow = d
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	return t.StopWithFields(nil)
}

// StopWithFields stops the timer and logs the duration along with fields
func (t *Timer) StopWithFields(fields map[string]interface{}) time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug()
	if t.slow > 0 && duration > t.slow {
		event = t.log.Warn().Bool("slow", true)
	}
	event.
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Fields(fields).
		Msg("Operation timed")

	return duration
}

// OperationTimer provides a defer-friendly way to measure operation duration
//
// Usage:
//
//	func (j *Job) Run(ctx context.Context) error {
//	    defer utils.OperationTimer("daily_refresh", j.log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	t := NewTimer(operation, log)
	return func() { t.Stop() }
}
