package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id          TEXT NOT NULL,
	posture         TEXT NOT NULL,
	deal_id         TEXT NOT NULL,
	input           JSONB NOT NULL,
	output          JSONB NOT NULL,
	policy_snapshot JSONB,
	input_hash      TEXT NOT NULL,
	output_hash     TEXT NOT NULL,
	policy_hash     TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_identity
	ON runs(org_id, posture, input_hash, policy_hash);
CREATE INDEX IF NOT EXISTS idx_runs_org_posture ON runs(org_id, posture);
CREATE INDEX IF NOT EXISTS idx_runs_deal_id ON runs(deal_id);

CREATE TABLE IF NOT EXISTS policy_overrides (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id        TEXT NOT NULL,
	posture       TEXT NOT NULL,
	token_key     TEXT NOT NULL,
	old_value     JSONB,
	new_value     JSONB NOT NULL,
	run_id        TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL,
	requested_by  TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	decided_by    TEXT,
	decided_at    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_overrides_org_posture ON policy_overrides(org_id, posture);
CREATE INDEX IF NOT EXISTS idx_overrides_status ON policy_overrides(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, row *model.RunRow) (*SaveRunResult, error) {
	if row == nil {
		return nil, eris.New("postgres: nil run row")
	}

	stored := *row
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(stored.Input)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run input")
	}
	outputJSON, err := json.Marshal(stored.Output)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run output")
	}
	var snapshotJSON []byte
	if stored.PolicySnapshot != nil {
		snapshotJSON, err = json.Marshal(stored.PolicySnapshot)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal policy snapshot")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, org_id, posture, deal_id, input, output, policy_snapshot, input_hash, output_hash, policy_hash, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		stored.ID, stored.OrgID, string(stored.Posture), stored.DealID,
		inputJSON, outputJSON, snapshotJSON,
		stored.InputHash, stored.OutputHash, stored.PolicyHash,
		stored.CreatedBy, stored.CreatedAt,
	)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			existing, ferr := s.findRunByIdentity(ctx, stored.OrgID, stored.Posture, stored.InputHash, stored.PolicyHash)
			if ferr != nil {
				return nil, ferr
			}
			return &SaveRunResult{Run: existing, Deduped: true}, nil
		}
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &SaveRunResult{Run: &stored}, nil
}

const runSelectPostgres = `SELECT id, org_id, posture, deal_id, input, output, policy_snapshot, input_hash, output_hash, policy_hash, created_by, created_at FROM runs`

func (s *PostgresStore) findRunByIdentity(ctx context.Context, orgID string, posture model.Posture, inputHash, policyHash string) (*model.RunRow, error) {
	row := s.pool.QueryRow(ctx,
		runSelectPostgres+` WHERE org_id = $1 AND posture = $2 AND input_hash = $3 AND policy_hash = $4`,
		orgID, string(posture), inputHash, policyHash,
	)
	return scanRunRowPG(row)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunRow, error) {
	row := s.pool.QueryRow(ctx, runSelectPostgres+` WHERE id = $1`, runID)
	r, err := scanRunRowPG(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRow, error) {
	query := runSelectPostgres + ` WHERE ($1 = '' OR org_id = $1) AND ($2 = '' OR posture = $2) AND ($3 = '' OR deal_id = $3)
		ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query,
		filter.OrgID, string(filter.Posture), filter.DealID, limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRow
	for rows.Next() {
		r, err := scanRunRowPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs scan")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateOverride(ctx context.Context, o *model.PolicyOverride) (*model.PolicyOverride, error) {
	if o == nil {
		return nil, eris.New("postgres: nil override")
	}

	stored := *o
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = model.OverrideStatusPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	var oldValue []byte
	if len(stored.OldValue) > 0 {
		oldValue = []byte(stored.OldValue)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_overrides (id, org_id, posture, token_key, old_value, new_value, run_id, justification, requested_by, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		stored.ID, stored.OrgID, string(stored.Posture), stored.TokenKey,
		oldValue, []byte(stored.NewValue), stored.RunID,
		stored.Justification, stored.RequestedBy, string(stored.Status), stored.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert override")
	}
	return &stored, nil
}

const overrideSelectPostgres = `SELECT id, org_id, posture, token_key, old_value, new_value, run_id, justification, requested_by, status, decided_by, decided_at, created_at FROM policy_overrides`

func (s *PostgresStore) GetOverride(ctx context.Context, id string) (*model.PolicyOverride, error) {
	row := s.pool.QueryRow(ctx, overrideSelectPostgres+` WHERE id = $1`, id)
	o, err := scanOverridePG(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get override %s", id)
	}
	return o, nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, filter OverrideFilter) ([]model.PolicyOverride, error) {
	query := overrideSelectPostgres + ` WHERE ($1 = '' OR org_id = $1) AND ($2 = '' OR posture = $2) AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query,
		filter.OrgID, string(filter.Posture), string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list overrides")
	}
	defer rows.Close()

	var overrides []model.PolicyOverride
	for rows.Next() {
		o, err := scanOverridePG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list overrides scan")
		}
		overrides = append(overrides, *o)
	}
	return overrides, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

func (s *PostgresStore) DecideOverride(ctx context.Context, id string, status model.OverrideStatus, decidedBy string) (*model.PolicyOverride, error) {
	if !status.Terminal() {
		return nil, eris.Errorf("postgres: decision status must be terminal, got %q", status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_overrides SET status = $1, decided_by = $2, decided_at = $3 WHERE id = $4 AND status = 'pending'`,
		string(status), decidedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: decide override %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOverride(ctx, id); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrAlreadyDecided, "postgres: override %s", id)
	}
	return s.GetOverride(ctx, id)
}

// helpers

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanRunRowPG(row pgx.Row) (*model.RunRow, error) {
	var r model.RunRow
	var posture string
	var inputJSON, outputJSON, snapshotJSON []byte

	err := row.Scan(&r.ID, &r.OrgID, &posture, &r.DealID, &inputJSON, &outputJSON,
		&snapshotJSON, &r.InputHash, &r.OutputHash, &r.PolicyHash, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run row")
	}

	r.Posture = model.Posture(posture)
	if err := json.Unmarshal(inputJSON, &r.Input); err != nil {
		return nil, eris.Wrap(err, "unmarshal run input")
	}
	if err := json.Unmarshal(outputJSON, &r.Output); err != nil {
		return nil, eris.Wrap(err, "unmarshal run output")
	}
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &r.PolicySnapshot); err != nil {
			return nil, eris.Wrap(err, "unmarshal policy snapshot")
		}
	}
	return &r, nil
}

func scanOverridePG(row pgx.Row) (*model.PolicyOverride, error) {
	var o model.PolicyOverride
	var posture, status string
	var oldValue, newValue []byte
	var decidedBy *string
	var decidedAt *time.Time

	err := row.Scan(&o.ID, &o.OrgID, &posture, &o.TokenKey, &oldValue, &newValue,
		&o.RunID, &o.Justification, &o.RequestedBy, &status, &decidedBy, &decidedAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan override")
	}

	o.Posture = model.Posture(posture)
	o.Status = model.OverrideStatus(status)
	o.NewValue = json.RawMessage(newValue)
	if len(oldValue) > 0 {
		o.OldValue = json.RawMessage(oldValue)
	}
	if decidedBy != nil {
		o.DecidedBy = *decidedBy
	}
	o.DecidedAt = decidedAt
	return &o, nil
}
