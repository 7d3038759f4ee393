package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"setlistify/internal/core"
)

const dateLayout = "2006-01-02"

// QuotaStore caps predictions per user per UTC calendar date.
type QuotaStore struct {
	db       *sql.DB
	dailyCap int
	now      func() time.Time
}

// NewQuotaStore creates a quota gate allowing dailyCap consumptions per user per day.
func NewQuotaStore(db *sql.DB, dailyCap int) *QuotaStore {
	if dailyCap <= 0 {
		dailyCap = core.DefaultDailyQuota
	}
	return &QuotaStore{
		db:       db,
		dailyCap: dailyCap,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *QuotaStore) SetClock(now func() time.Time) {
	s.now = now
}

// CheckAndConsume consumes one unit for userID if the day's cap is not reached.
// The counter resets on the first call of a new UTC date.
func (s *QuotaStore) CheckAndConsume(ctx context.Context, userID string) (core.QuotaDecision, error) {
	if userID == "" {
		return core.QuotaDecision{}, errors.New("user id is required")
	}

	now := s.now().UTC()
	today := now.Format(dateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.QuotaDecision{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		used     int
		lastDate string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT queries_today, last_query_date FROM users WHERE id = ?", userID).Scan(&used, &lastDate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (id, queries_today, last_query_date) VALUES (?, 0, ?)", userID, today); err != nil {
			return core.QuotaDecision{}, fmt.Errorf("failed to create user: %w", err)
		}
		used, lastDate = 0, today
	case err != nil:
		return core.QuotaDecision{}, fmt.Errorf("failed to read quota: %w", err)
	}

	if lastDate != today {
		used = 0
	}

	if used >= s.dailyCap {
		return core.QuotaDecision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: nextUTCMidnight(now),
		}, nil
	}

	used++
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET queries_today = ?, last_query_date = ? WHERE id = ?", used, today, userID); err != nil {
		return core.QuotaDecision{}, fmt.Errorf("failed to update quota: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.QuotaDecision{}, fmt.Errorf("failed to commit quota: %w", err)
	}

	return core.QuotaDecision{Allowed: true, Remaining: s.dailyCap - used}, nil
}

// Usage returns the number of units userID has consumed today.
func (s *QuotaStore) Usage(ctx context.Context, userID string) (int, error) {
	var (
		used     int
		lastDate string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT queries_today, last_query_date FROM users WHERE id = ?", userID).Scan(&used, &lastDate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	if lastDate != s.now().UTC().Format(dateLayout) {
		return 0, nil
	}
	return used, nil
}

func nextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
