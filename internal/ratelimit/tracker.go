// Package ratelimit tracks provider distress signals (HTTP 429-class
// responses) and reports a global cooldown while any signal is recent.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/gapfill/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// DefaultCooldown is how long one distress signal throttles the provider.
	DefaultCooldown = time.Hour

	maxEntries    = 100
	retainEntries = 50
)

// Entry describes one recorded distress signal.
type Entry struct {
	Key         string    `json:"key"`
	Endpoint    string    `json:"endpoint"`
	Symbol      string    `json:"symbol,omitempty"`
	LimitedAt   time.Time `json:"limited_at"`
	AvailableAt time.Time `json:"available_at"`
	Active      bool      `json:"active"`
}

// Status is the tracker state for inspection.
type Status struct {
	RateLimited   bool       `json:"rate_limited"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
	Entries       []Entry    `json:"entries"`
}

// Tracker records distress signals keyed by endpoint or endpoint:symbol.
// Any active entry means the whole provider is treated as throttled.
type Tracker struct {
	mu       sync.Mutex
	path     string
	cooldown time.Duration
	entries  map[string]time.Time
	now      func() time.Time
	log      zerolog.Logger
}

// NewTracker loads persisted entries from path, if any. Stale entries are
// dropped by the first check.
func NewTracker(path string, log zerolog.Logger) *Tracker {
	t := &Tracker{
		path:     path,
		cooldown: DefaultCooldown,
		entries:  make(map[string]time.Time),
		now:      time.Now,
		log:      log.With().Str("component", "rate_limit_tracker").Logger(),
	}

	var stored map[string]time.Time
	if _, err := utils.ReadJSON(path, &stored); err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("Failed to load rate limit state, starting fresh")
	}
	for key, at := range stored {
		t.entries[key] = at
	}
	return t
}

// SetClock replaces the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Key builds the composite entry key. The symbol is optional.
func Key(endpoint, symbol string) string {
	if symbol == "" {
		return endpoint
	}
	return endpoint + ":" + symbol
}

// RecordRateLimit stamps now under the (endpoint, symbol) key and persists.
func (t *Tracker) RecordRateLimit(endpoint, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.entries[Key(endpoint, symbol)] = now
	t.bound()
	t.save()

	t.log.Warn().
		Str("endpoint", endpoint).
		Str("symbol", symbol).
		Time("available_at", now.Add(t.cooldown)).
		Msg("Provider rate limit recorded, pausing budgeted calls")
}

// IsRateLimited reports whether any entry is inside the cooldown window.
// Stale entries are pruned as a side effect.
func (t *Tracker) IsRateLimited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneStale()
	return len(t.entries) > 0
}

// Status returns every retained entry and the earliest time an active
// entry expires.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	status := Status{Entries: make([]Entry, 0, len(t.entries))}
	for key, at := range t.entries {
		endpoint, symbol := splitKey(key)
		available := at.Add(t.cooldown)
		active := now.Sub(at) < t.cooldown
		status.Entries = append(status.Entries, Entry{
			Key:         key,
			Endpoint:    endpoint,
			Symbol:      symbol,
			LimitedAt:   at,
			AvailableAt: available,
			Active:      active,
		})
		if active {
			status.RateLimited = true
			if status.NextAvailable == nil || available.Before(*status.NextAvailable) {
				next := available
				status.NextAvailable = &next
			}
		}
	}
	sort.Slice(status.Entries, func(i, j int) bool {
		return status.Entries[i].LimitedAt.After(status.Entries[j].LimitedAt)
	})
	return status
}

func splitKey(key string) (endpoint, symbol string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// pruneStale drops entries outside the cooldown. Must be called with mu held.
func (t *Tracker) pruneStale() {
	now := t.now()
	changed := false
	for key, at := range t.entries {
		if now.Sub(at) >= t.cooldown {
			delete(t.entries, key)
			changed = true
		}
	}
	if changed {
		t.save()
	}
}

// bound keeps the newest entries once the table grows past its limit.
// Must be called with mu held.
func (t *Tracker) bound() {
	if len(t.entries) <= maxEntries {
		return
	}
	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return t.entries[keys[i]].After(t.entries[keys[j]])
	})
	for _, key := range keys[retainEntries:] {
		delete(t.entries, key)
	}
}

// save persists entries. Must be called with mu held.
func (t *Tracker) save() {
	if t.path == "" {
		return
	}
	if err := utils.WriteJSONAtomic(t.path, t.entries); err != nil {
		t.log.Error().Err(err).Str("path", t.path).Msg("Failed to persist rate limit state")
	}
}
