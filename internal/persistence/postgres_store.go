package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/chatflow/pkg/api"
)

// PostgresExecutionStore is an ExecutionStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresExecutionStore struct {
	db *sql.DB
}

// Ensure PostgresExecutionStore implements ExecutionStore.
var _ ExecutionStore = (*PostgresExecutionStore)(nil)

// NewPostgresExecutionStore initializes the required schema in the given
// database and returns a new PostgresExecutionStore.
func NewPostgresExecutionStore(db *sql.DB) (*PostgresExecutionStore, error) {
	s := &PostgresExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_executions (
			id         TEXT PRIMARY KEY,
			flow_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			snapshot   BYTEA NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_flow_executions_flow ON flow_executions (flow_id, status)`)
	return err
}

func (s *PostgresExecutionStore) Upsert(ctx context.Context, exec *api.FlowExecution) error {
	snapshot, err := EncodeExecution(exec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_executions (id, flow_id, status, started_at, snapshot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET flow_id    = EXCLUDED.flow_id,
		    status     = EXCLUDED.status,
		    snapshot   = EXCLUDED.snapshot,
		    updated_at = now()
	`,
		exec.ID,
		exec.FlowID,
		string(exec.Status),
		exec.StartedAt,
		snapshot,
	)
	return err
}

func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*api.FlowExecution, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM flow_executions WHERE id = $1`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return DecodeExecution(snapshot)
}

func (s *PostgresExecutionStore) List(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error) {
	query := `SELECT snapshot FROM flow_executions`
	var args []any
	var clauses []string

	if filter.FlowID != "" {
		clauses = append(clauses, fmt.Sprintf("flow_id = $%d", len(args)+1))
		args = append(args, filter.FlowID)
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSnapshots(rows)
}
