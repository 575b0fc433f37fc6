// Package gaps provides the durable gap ledger: retry bookkeeping for data
// gaps that could not be filled yet.
package gaps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultRetryDelay is how long a data_unavailable gap waits before it is retried.
const DefaultRetryDelay = 24 * time.Hour

// ErrInvalidGap is returned for gaps missing a symbol or type.
var ErrInvalidGap = errors.New("invalid gap")

// Ledger persists gap records in the data_gaps table.
// It assumes a single writer process.
type Ledger struct {
	db         *sql.DB
	retryDelay time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewLedger creates a ledger over an open database with the market schema applied.
func NewLedger(db *sql.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:         db,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		log:        log.With().Str("component", "gap_ledger").Logger(),
	}
}

// SetRetryDelay overrides the data_unavailable retry delay. Timestamps are
// stored in whole seconds, so delays under a second are ignored.
func (l *Ledger) SetRetryDelay(d time.Duration) {
	if d >= time.Second {
		l.retryDelay = d
	}
}

// SetClock replaces the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func validate(gap domain.Gap) error {
	if gap.Symbol == "" || gap.Type == "" {
		return fmt.Errorf("%w: symbol=%q type=%q", ErrInvalidGap, gap.Symbol, gap.Type)
	}
	return nil
}

// RecordAttempt records a transient failure for a gap. The row stays pending
// (or keeps its current status) and its error counters are bumped.
func (l *Ledger) RecordAttempt(ctx context.Context, gap domain.Gap, errorType domain.ErrorType, message string) error {
	if err := validate(gap); err != nil {
		return err
	}

	now := l.now().Unix()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO data_gaps (symbol, gap_type, start_date, end_date, priority, status,
			last_attempt, error_count, error_type, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, 1, ?, ?, ?)
		ON CONFLICT (symbol, gap_type, start_date, end_date) DO UPDATE SET
			priority = excluded.priority,
			last_attempt = excluded.last_attempt,
			error_count = data_gaps.error_count + 1,
			error_type = excluded.error_type,
			error_message = excluded.error_message
	`, gap.Symbol, string(gap.Type), gap.StartDate, gap.EndDate, gap.Priority,
		now, string(errorType), message, now)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", gap, err)
	}

	l.log.Debug().
		Str("symbol", gap.Symbol).
		Str("gap_type", string(gap.Type)).
		Str("error_type", string(errorType)).
		Msg("Recorded failed attempt")
	return nil
}

// MarkUnavailable records that the provider confirmed no data exists for a
// gap. The row moves to data_unavailable with next_retry = now + retry delay.
func (l *Ledger) MarkUnavailable(ctx context.Context, gap domain.Gap, reason string) error {
	if err := validate(gap); err != nil {
		return err
	}

	now := l.now()
	nextRetry := now.Add(l.retryDelay)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO data_gaps (symbol, gap_type, start_date, end_date, priority, status,
			last_attempt, next_retry, error_count, error_type, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, 'data_unavailable', ?, ?, 1, ?, ?, ?)
		ON CONFLICT (symbol, gap_type, start_date, end_date) DO UPDATE SET
			priority = excluded.priority,
			status = 'data_unavailable',
			last_attempt = excluded.last_attempt,
			next_retry = excluded.next_retry,
			error_count = data_gaps.error_count + 1,
			error_type = excluded.error_type,
			error_message = excluded.error_message
	`, gap.Symbol, string(gap.Type), gap.StartDate, gap.EndDate, gap.Priority,
		now.Unix(), nextRetry.Unix(), string(domain.ErrorNoData), reason, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to mark %s unavailable: %w", gap, err)
	}

	l.log.Info().
		Str("symbol", gap.Symbol).
		Str("gap_type", string(gap.Type)).
		Time("next_retry", nextRetry).
		Str("reason", reason).
		Msg("Marked gap as data unavailable")
	return nil
}

// Resolve clears the retry state of a gap that has been filled. The row is
// kept, back in pending with zeroed counters, so it stops being retry-ready.
// Gaps without a row are left alone.
func (l *Ledger) Resolve(ctx context.Context, gap domain.Gap) error {
	if err := validate(gap); err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE data_gaps SET
			status = 'pending',
			last_attempt = ?,
			next_retry = NULL,
			error_count = 0,
			error_type = '',
			error_message = ''
		WHERE symbol = ? AND gap_type = ? AND start_date = ? AND end_date = ?
	`, l.now().Unix(), gap.Symbol, string(gap.Type), gap.StartDate, gap.EndDate)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", gap, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		l.log.Debug().
			Str("symbol", gap.Symbol).
			Str("gap_type", string(gap.Type)).
			Msg("Resolved gap")
	}
	return nil
}

// GetRetryReady returns data_unavailable rows whose retry time has passed,
// highest priority first, then oldest next_retry.
func (l *Ledger) GetRetryReady(ctx context.Context, limit int) ([]domain.GapRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, selectColumns+`
		WHERE status = 'data_unavailable' AND next_retry IS NOT NULL AND next_retry <= ?
		ORDER BY priority DESC, next_retry ASC
		LIMIT ?
	`, l.now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry-ready gaps: %w", err)
	}
	return scanRecords(rows)
}

// GetWaiting returns data_unavailable rows still inside their retry delay.
func (l *Ledger) GetWaiting(ctx context.Context) ([]domain.GapRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
		WHERE status = 'data_unavailable' AND next_retry > ?
		ORDER BY next_retry ASC
	`, l.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting gaps: %w", err)
	}
	return scanRecords(rows)
}

// Get returns the ledger row for a gap, or nil if none exists.
func (l *Ledger) Get(ctx context.Context, gap domain.Gap) (*domain.GapRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
		WHERE symbol = ? AND gap_type = ? AND start_date = ? AND end_date = ?
	`, gap.Symbol, string(gap.Type), gap.StartDate, gap.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query gap %s: %w", gap, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Counts returns the number of ledger rows per status.
func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM data_gaps GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count gaps: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		string(domain.StatusPending):         0,
		string(domain.StatusDataUnavailable): 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan gap count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const selectColumns = `
	SELECT id, symbol, gap_type, start_date, end_date, priority, status,
		last_attempt, next_retry, error_count, error_type, error_message, created_at
	FROM data_gaps`

func scanRecords(rows *sql.Rows) ([]domain.GapRecord, error) {
	defer rows.Close()

	var records []domain.GapRecord
	for rows.Next() {
		var (
			rec         domain.GapRecord
			gapType     string
			status      string
			errorType   string
			lastAttempt sql.NullInt64
			nextRetry   sql.NullInt64
			createdAt   int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &gapType, &rec.StartDate, &rec.EndDate,
			&rec.Priority, &status, &lastAttempt, &nextRetry, &rec.ErrorCount, &errorType,
			&rec.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan gap record: %w", err)
		}
		rec.Type = domain.GapType(gapType)
		rec.Status = domain.GapStatus(status)
		rec.ErrorType = domain.ErrorType(errorType)
		rec.CreatedAt = time.Unix(createdAt, 0)
		if lastAttempt.Valid {
			t := time.Unix(lastAttempt.Int64, 0)
			rec.LastAttempt = &t
		}
		if nextRetry.Valid {
			t := time.Unix(nextRetry.Int64, 0)
			rec.NextRetry = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gap records: %w", err)
	}
	return records, nil
}
