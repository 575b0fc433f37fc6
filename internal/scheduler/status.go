package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/catchup"
	"github.com/aristath/gapfill/internal/refresh"
	"github.com/aristath/gapfill/internal/utils"
)

// Status is the process-wide scheduler record. It is owned by the Scheduler,
// handed to jobs while they run and written to disk for inspection tooling.
type Status struct {
	Running              bool                  `json:"running"`
	PID                  int                   `json:"pid"`
	StartedAt            *time.Time            `json:"started_at,omitempty"`
	LastSuccessfulUpdate *time.Time            `json:"last_successful_update,omitempty"`
	NextScheduledRun     *time.Time            `json:"next_scheduled_run,omitempty"`
	ConsecutiveFailures  int                   `json:"consecutive_failures"`
	LastUpdated          time.Time             `json:"last_updated"`
	Jobs                 map[string]*JobStatus `json:"jobs"`

	LastRefresh        *refresh.Result     `json:"last_refresh,omitempty"`
	LastCatchUp        *catchup.PassResult `json:"last_catchup,omitempty"`
	CatchUpPausedUntil *time.Time          `json:"catchup_paused_until,omitempty"`
	LastHealthCheck    *HealthReport       `json:"last_health_check,omitempty"`
}

// JobStatus tracks one registered job.
type JobStatus struct {
	Schedule     string     `json:"schedule"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Runs         int        `json:"runs"`
	Failures     int        `json:"failures"`
}

// NewStatus returns an empty status.
func NewStatus() *Status {
	return &Status{Jobs: make(map[string]*JobStatus)}
}

func (s *Status) job(name string) *JobStatus {
	if s.Jobs == nil {
		s.Jobs = make(map[string]*JobStatus)
	}
	js, ok := s.Jobs[name]
	if !ok {
		js = &JobStatus{}
		s.Jobs[name] = js
	}
	return js
}

// StatusStore persists Status as a JSON file.
type StatusStore struct {
	path string
}

// NewStatusStore creates a store writing to path.
func NewStatusStore(path string) *StatusStore {
	return &StatusStore{path: path}
}

// Path returns the status file location
func (s *StatusStore) Path() string {
	return s.path
}

// Save writes the status atomically.
func (s *StatusStore) Save(st *Status) error {
	if err := utils.WriteJSONAtomic(s.path, st); err != nil {
		return fmt.Errorf("failed to save scheduler status: %w", err)
	}
	return nil
}

// Load reads the status file. It returns nil without error when no file exists.
func (s *StatusStore) Load() (*Status, error) {
	return LoadStatus(s.path)
}

// LoadStatus reads a status file written by a scheduler.
func LoadStatus(path string) (*Status, error) {
	st := NewStatus()
	found, err := utils.ReadJSON(path, st)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduler status: %w", err)
	}
	if !found {
		return nil, nil
	}
	if st.Jobs == nil {
		st.Jobs = make(map[string]*JobStatus)
	}
	return st, nil
}
