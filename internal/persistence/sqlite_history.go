package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/ordena/ordena/pkg/api"
)

// SQLiteHistoryStore stores per-instance history events in SQLite. Sequence
// numbers are assigned inside the append transaction, so a history is
// totally ordered even under concurrent appends for different instances.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// Ensure SQLiteHistoryStore implements HistoryStore.
var _ HistoryStore = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			task_id INTEGER NOT NULL DEFAULT 0,
			deadline INTEGER NOT NULL DEFAULT 0,
			payload BLOB,
			PRIMARY KEY (instance_id, seq)
		);
	`)
	return err
}

func (s *SQLiteHistoryStore) AppendEvent(ctx context.Context, instanceID string, ev api.HistoryEvent) (api.HistoryEvent, error) {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return api.HistoryEvent{}, err
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.HistoryEvent{}, err
	}

	var next int64
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM history_events WHERE instance_id = ?`,
		instanceID)
	if err := row.Scan(&next); err != nil {
		_ = tx.Rollback()
		return api.HistoryEvent{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history_events (instance_id, seq, kind, at, name, task_id, deadline, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		instanceID,
		next,
		string(ev.Kind),
		ev.At.UnixNano(),
		ev.Name,
		ev.TaskID,
		nanoOrZero(ev.Deadline),
		payload,
	)
	if err != nil {
		_ = tx.Rollback()
		return api.HistoryEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return api.HistoryEvent{}, err
	}

	ev.Sequence = next
	return ev, nil
}

func (s *SQLiteHistoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, at, name, task_id, deadline, payload
		FROM history_events
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			seq      int64
			kind     string
			atN      int64
			name     string
			taskID   int64
			deadline int64
			payload  []byte
		)
		if err := rows.Scan(&seq, &kind, &atN, &name, &taskID, &deadline, &payload); err != nil {
			return nil, err
		}

		val, err := DecodeValue(payload)
		if err != nil {
			return nil, err
		}

		ev := api.HistoryEvent{
			Sequence: seq,
			Kind:     api.EventKind(kind),
			At:       time.Unix(0, atN),
			Name:     name,
			TaskID:   taskID,
			Payload:  val,
		}
		if deadline != 0 {
			ev.Deadline = time.Unix(0, deadline)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SQLiteEventBufferStore buffers early external events in SQLite so they
// survive restarts alongside the histories they will eventually join.
type SQLiteEventBufferStore struct {
	db *sql.DB
}

// Ensure SQLiteEventBufferStore implements EventBufferStore.
var _ EventBufferStore = (*SQLiteEventBufferStore)(nil)

func NewSQLiteEventBufferStore(db *sql.DB) (*SQLiteEventBufferStore, error) {
	s := &SQLiteEventBufferStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventBufferStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS buffered_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			name TEXT NOT NULL,
			payload BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_buffered_events_key ON buffered_events(instance_id, name, id);
	`)
	return err
}

func (s *SQLiteEventBufferStore) Push(ctx context.Context, instanceID, name string, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO buffered_events (instance_id, name, payload)
		VALUES (?, ?, ?)`,
		instanceID, name, data)
	return err
}

func (s *SQLiteEventBufferStore) Pop(ctx context.Context, instanceID, name string) (any, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}

	var id int64
	var payload []byte
	row := tx.QueryRowContext(ctx, `
		SELECT id, payload FROM buffered_events
		WHERE instance_id = ? AND name = ?
		ORDER BY id LIMIT 1`,
		instanceID, name)
	if err := row.Scan(&id, &payload); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buffered_events WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	val, err := DecodeValue(payload)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *SQLiteEventBufferStore) Clear(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM buffered_events WHERE instance_id = ?`, instanceID)
	return err
}
