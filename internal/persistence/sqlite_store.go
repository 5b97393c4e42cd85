package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ordena/ordena/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

func (s *SQLiteInstanceStore) SaveInstance(inst *api.OrchestrationInstance) error {
	input, output, errStr, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, workflow, status, input, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Workflow,
		string(inst.Status),
		input,
		output,
		errStr,
		inst.StartedAt.UnixNano(),
		nanoOrZero(inst.CompletedAt),
	)
	return err
}

func (s *SQLiteInstanceStore) UpdateInstance(inst *api.OrchestrationInstance) error {
	input, output, errStr, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE instances
		SET workflow = ?, status = ?, input = ?, output = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		inst.Workflow,
		string(inst.Status),
		input,
		output,
		errStr,
		inst.StartedAt.UnixNano(),
		nanoOrZero(inst.CompletedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

func (s *SQLiteInstanceStore) GetInstance(id string) (*api.OrchestrationInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, status, input, output, error, started_at, completed_at
		FROM instances
		WHERE id = ?`,
		id,
	)

	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteInstanceStore) ListInstances(filter InstanceFilter) ([]*api.OrchestrationInstance, error) {
	query := `
		SELECT id, workflow, status, input, output, error, started_at, completed_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY started_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.OrchestrationInstance

	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func encodeInstance(inst *api.OrchestrationInstance) (input, output []byte, errStr string, err error) {
	input, err = EncodeValue(inst.Input)
	if err != nil {
		return nil, nil, "", err
	}

	output, err = EncodeValue(inst.Output)
	if err != nil {
		return nil, nil, "", err
	}

	if inst.Err != nil {
		errStr = inst.Err.Error()
	}
	return input, output, errStr, nil
}

func scanInstance(scan func(dest ...any) error) (*api.OrchestrationInstance, error) {
	var inst api.OrchestrationInstance
	var statusStr string
	var input, output []byte
	var errStr sql.NullString
	var startedAt, completedAt int64

	if err := scan(&inst.ID, &inst.Workflow, &statusStr, &input, &output, &errStr, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.StartedAt = time.Unix(0, startedAt)
	if completedAt != 0 {
		inst.CompletedAt = time.Unix(0, completedAt)
	}

	inVal, err := DecodeValue(input)
	if err != nil {
		return nil, err
	}
	inst.Input = inVal

	outVal, err := DecodeValue(output)
	if err != nil {
		return nil, err
	}
	inst.Output = outVal

	if errStr.Valid && errStr.String != "" {
		inst.Err = errors.New(errStr.String)
	}

	return &inst, nil
}

func nanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
