package budget

import (
	"sync"
	"time"

	"github.com/aristath/gapfill/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAuditEntries bounds the request audit log.
const DefaultAuditEntries = 1000

// RequestEntry is one audited provider request.
type RequestEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Provider   string    `json:"provider"`
	Endpoint   string    `json:"endpoint"`
	Symbol     string    `json:"symbol,omitempty"`
	StatusCode int       `json:"status_code"`
	Outcome    string    `json:"outcome"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// AuditLog is a rolling JSON file of the most recent requests.
type AuditLog struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    []RequestEntry
	now        func() time.Time
	log        zerolog.Logger
}

// NewAuditLog loads existing entries from path, if any.
func NewAuditLog(path string, maxEntries int, log zerolog.Logger) *AuditLog {
	if maxEntries <= 0 {
		maxEntries = DefaultAuditEntries
	}
	a := &AuditLog{
		path:       path,
		maxEntries: maxEntries,
		now:        time.Now,
		log:        log.With().Str("component", "request_audit").Logger(),
	}
	if _, err := utils.ReadJSON(path, &a.entries); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Failed to load request log, starting fresh")
		a.entries = nil
	}
	a.trim()
	return a
}

// Append adds an entry, stamping ID and Timestamp when missing, trims the log
// to its bound and persists it.
func (a *AuditLog) Append(entry RequestEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	a.entries = append(a.entries, entry)
	a.trim()

	if a.path == "" {
		return
	}
	if err := utils.WriteJSONAtomic(a.path, a.entries); err != nil {
		a.log.Error().Err(err).Str("path", a.path).Msg("Failed to persist request log")
	}
}

// Recent returns up to n of the newest entries, newest last.
func (a *AuditLog) Recent(n int) []RequestEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]RequestEntry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

// Len returns the number of retained entries.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *AuditLog) trim() {
	if over := len(a.entries) - a.maxEntries; over > 0 {
		a.entries = append([]RequestEntry(nil), a.entries[over:]...)
	}
}
