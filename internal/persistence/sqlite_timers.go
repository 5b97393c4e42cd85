package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteTimerStore persists durable timers in SQLite. The fired flag is
// flipped with a guarded UPDATE inside ClaimDue, so each timer is handed out
// exactly once even across process restarts.
type SQLiteTimerStore struct {
	db *sql.DB
}

// Ensure SQLiteTimerStore implements TimerStore.
var _ TimerStore = (*SQLiteTimerStore)(nil)

func NewSQLiteTimerStore(db *sql.DB) (*SQLiteTimerStore, error) {
	s := &SQLiteTimerStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTimerStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS timers (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			deadline INTEGER NOT NULL,
			fired INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (instance_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_timers_pending ON timers(fired, cancelled, deadline);
	`)
	return err
}

func (s *SQLiteTimerStore) SaveTimer(ctx context.Context, t Timer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (instance_id, seq, deadline)
		VALUES (?, ?, ?)`,
		t.InstanceID, t.Seq, t.Deadline.UnixNano())
	return err
}

func (s *SQLiteTimerStore) ClaimDue(ctx context.Context, now time.Time) ([]Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, seq, deadline FROM timers
		WHERE fired = 0 AND cancelled = 0 AND deadline <= ?
		ORDER BY deadline, instance_id, seq`,
		now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Timer
	for rows.Next() {
		var t Timer
		var deadline int64
		if err := rows.Scan(&t.InstanceID, &t.Seq, &deadline); err != nil {
			return nil, err
		}
		t.Deadline = time.Unix(0, deadline)
		candidates = append(candidates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Claim each candidate individually; a zero-row update means someone
	// else (or a racing cancellation) got there first.
	var claimed []Timer
	for _, t := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE timers SET fired = 1
			WHERE instance_id = ? AND seq = ? AND fired = 0 AND cancelled = 0`,
			t.InstanceID, t.Seq)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 1 {
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

func (s *SQLiteTimerStore) Fired(ctx context.Context, instanceID string, seq int64) (bool, error) {
	var fired int
	err := s.db.QueryRowContext(ctx, `
		SELECT fired FROM timers
		WHERE instance_id = ? AND seq = ?`,
		instanceID, seq).Scan(&fired)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fired == 1, nil
}

func (s *SQLiteTimerStore) CancelTimer(ctx context.Context, instanceID string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE timers SET cancelled = 1
		WHERE instance_id = ? AND seq = ? AND fired = 0`,
		instanceID, seq)
	return err
}

func (s *SQLiteTimerStore) CancelAll(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE timers SET cancelled = 1
		WHERE instance_id = ? AND fired = 0`,
		instanceID)
	return err
}
