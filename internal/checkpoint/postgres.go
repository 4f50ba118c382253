package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/rzbill/kvbridge/internal/mutation"
)

var tableRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresStore keeps one row per bridge name in a Postgres table.
type PostgresStore struct {
	db    *sql.DB
	name  string
	table string
}

// NewPostgresStore connects with lib/pq and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn, table, name string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("checkpoint: postgres dsn is required")
	}
	if table == "" {
		table = "kvbridge_checkpoints"
	}
	if !tableRE.MatchString(table) {
		return nil, errors.Newf("checkpoint: invalid table name %q", table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(2)
	s := &PostgresStore{db: db, name: name, table: pq.QuoteIdentifier(table)}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name       TEXT PRIMARY KEY,
	position   BIGINT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL,
	run_id     TEXT NOT NULL DEFAULT ''
)`, s.table))
	return errors.Wrap(err, "create checkpoint table")
}

func (s *PostgresStore) Load(ctx context.Context) (*Checkpoint, error) {
	var (
		pos   int64
		at    time.Time
		runID string
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT position, applied_at, run_id FROM %s WHERE name = $1`, s.table), s.name).
		Scan(&pos, &at, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	if pos < 0 {
		return nil, errors.Newf("checkpoint: negative stored position %d", pos)
	}
	return &Checkpoint{Position: mutation.Position(pos), AppliedAt: at.UTC(), RunID: runID}, nil
}

// Save upserts the row; the WHERE clause keeps a higher stored position.
func (s *PostgresStore) Save(ctx context.Context, cp Checkpoint) error {
	return s.upsert(ctx, cp, true)
}

func (s *PostgresStore) Reset(ctx context.Context, cp Checkpoint) error {
	return s.upsert(ctx, cp, false)
}

func (s *PostgresStore) upsert(ctx context.Context, cp Checkpoint, monotonic bool) error {
	// position is a BIGINT column.
	if cp.Position > math.MaxInt64 {
		return errors.Newf("checkpoint: position %d does not fit a postgres bigint", cp.Position)
	}
	q := fmt.Sprintf(`INSERT INTO %[1]s AS c (name, position, applied_at, run_id) VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET position = excluded.position, applied_at = excluded.applied_at, run_id = excluded.run_id`, s.table)
	if monotonic {
		q += ` WHERE c.position <= excluded.position`
	}
	if _, err := s.db.ExecContext(ctx, q, s.name, int64(cp.Position), cp.AppliedAt.UTC(), cp.RunID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return errors.Wrapf(err, "save checkpoint (%s)", pqErr.Code.Name())
		}
		return errors.Wrap(err, "save checkpoint")
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
