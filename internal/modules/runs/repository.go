// Package runs stores finished selection runs so they can be listed and
// fetched again. Results are kept as msgpack blobs beside a few indexed
// summary columns.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("runs: not found")

// Kind is the selection a run performed.
type Kind string

const (
	KindFiducials Kind = "fiducials"
	KindGerms     Kind = "germs"
	KindDesign    Kind = "design"
)

// Run is one stored selection.
type Run struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	GateSet   string    `json:"gate_set"`
	Complete  bool      `json:"complete"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	payload []byte
}

// New encodes result into a fresh run with a random ID.
func New(kind Kind, gateSet string, complete bool, failure string, result any) (*Run, error) {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", kind, err)
	}
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		GateSet:   gateSet,
		Complete:  complete,
		Failure:   failure,
		CreatedAt: time.Now().UTC(),
		payload:   payload,
	}, nil
}

// Decode decodes the stored result into v.
func (r *Run) Decode(v any) error {
	if len(r.payload) == 0 {
		return fmt.Errorf("run %s has no payload", r.ID)
	}
	return msgpack.Unmarshal(r.payload, v)
}

// Repository provides run persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save inserts a run.
func (r *Repository) Save(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO selection_runs (id, kind, gate_set, complete, failure, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.GateSet, boolToInt(run.Complete), run.Failure, run.payload, run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.log.Debug().
		Str("id", run.ID).
		Str("kind", string(run.Kind)).
		Str("gate_set", run.GateSet).
		Int("payload_bytes", len(run.payload)).
		Msg("Run saved")
	return nil
}

// Get returns a run with its payload.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, kind, gate_set, complete, failure, created_at, payload
		 FROM selection_runs WHERE id = ?`, id)

	run, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Kind    Kind
	GateSet string
	Limit   int
}

// List returns run summaries without payloads, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Run, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `SELECT id, kind, gate_set, complete, failure, created_at FROM selection_runs WHERE 1 = 1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.GateSet != "" {
		query += ` AND gate_set = ?`
		args = append(args, f.GateSet)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes runs created before cutoff and returns how many
// were removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM selection_runs WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, withPayload bool) (*Run, error) {
	var (
		run      Run
		kind     string
		complete int
		created  int64
	)
	dest := []any{&run.ID, &kind, &run.GateSet, &complete, &run.Failure, &created}
	if withPayload {
		dest = append(dest, &run.payload)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	run.Kind = Kind(kind)
	run.Complete = complete != 0
	run.CreatedAt = time.Unix(0, created).UTC()
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
