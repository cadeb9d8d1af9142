package repair

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// SQLCheckpointStore persists run checkpoints in the repair_runs table of
// the primary database. Counts are stored as JSONB.
type SQLCheckpointStore struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewSQLCheckpointStore creates a checkpoint store over the given database.
func NewSQLCheckpointStore(db *sql.DB, logger *observability.Logger) *SQLCheckpointStore {
	return &SQLCheckpointStore{db: db, logger: logger}
}

// CreateRun inserts a new run row.
func (s *SQLCheckpointStore) CreateRun(ctx context.Context, st *Status) error {
	counts, err := json.Marshal(st.Counts)
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal repair counts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repair_runs (id, state, phase, last_cursor, counts, mismatches, error, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, st.State, st.Phase, st.LastCursor, counts, st.Mismatches, st.Error, st.StartedAt, st.UpdatedAt)
	if err != nil {
		return contextutils.WrapError(err, "failed to create repair run")
	}
	return nil
}

// SaveRun commits a run's current progress. This is the durable unit of
// work boundary: once it returns, a crash resumes from this point.
func (s *SQLCheckpointStore) SaveRun(ctx context.Context, st *Status) error {
	counts, err := json.Marshal(st.Counts)
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal repair counts")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE repair_runs
		 SET state = $2, phase = $3, last_cursor = $4, counts = $5, mismatches = $6, error = $7, updated_at = $8
		 WHERE id = $1`,
		st.ID, st.State, st.Phase, st.LastCursor, counts, st.Mismatches, st.Error, st.UpdatedAt)
	if err != nil {
		return contextutils.WrapError(err, "failed to save repair run")
	}
	return nil
}

// LoadRun fetches a run by id.
func (s *SQLCheckpointStore) LoadRun(ctx context.Context, id string) (*Status, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, phase, last_cursor, counts, mismatches, error, started_at, updated_at
		 FROM repair_runs WHERE id = $1`, id)
	return scanRun(row)
}

// ActiveRun returns the most recent non-terminal run, or nil when none exists.
func (s *SQLCheckpointStore) ActiveRun(ctx context.Context) (*Status, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, phase, last_cursor, counts, mismatches, error, started_at, updated_at
		 FROM repair_runs WHERE state NOT IN ($1, $2)
		 ORDER BY started_at DESC LIMIT 1`, StateDone, StateFailed)
	st, err := scanRun(row)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

func scanRun(row *sql.Row) (*Status, error) {
	var st Status
	var counts []byte
	err := row.Scan(&st.ID, &st.State, &st.Phase, &st.LastCursor, &counts,
		&st.Mismatches, &st.Error, &st.StartedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.WrapError(contextutils.ErrRecordNotFound, "repair run not found")
		}
		return nil, contextutils.WrapError(err, "failed to scan repair run")
	}
	st.Counts = make(map[string]int)
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &st.Counts); err != nil {
			return nil, contextutils.WrapError(err, "failed to unmarshal repair counts")
		}
	}
	return &st, nil
}

var _ CheckpointStore = (*SQLCheckpointStore)(nil)
