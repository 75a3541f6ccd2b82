package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hps-group/dealengine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	org_id          TEXT NOT NULL,
	posture         TEXT NOT NULL,
	deal_id         TEXT NOT NULL,
	input           TEXT NOT NULL,
	output          TEXT NOT NULL,
	policy_snapshot TEXT,
	input_hash      TEXT NOT NULL,
	output_hash     TEXT NOT NULL,
	policy_hash     TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_identity
	ON runs(org_id, posture, input_hash, policy_hash);
CREATE INDEX IF NOT EXISTS idx_runs_org_posture ON runs(org_id, posture);
CREATE INDEX IF NOT EXISTS idx_runs_deal_id ON runs(deal_id);

CREATE TABLE IF NOT EXISTS policy_overrides (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	posture       TEXT NOT NULL,
	token_key     TEXT NOT NULL,
	old_value     TEXT,
	new_value     TEXT NOT NULL,
	run_id        TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL,
	requested_by  TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	decided_by    TEXT,
	decided_at    DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_overrides_org_posture ON policy_overrides(org_id, posture);
CREATE INDEX IF NOT EXISTS idx_overrides_status ON policy_overrides(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, row *model.RunRow) (*SaveRunResult, error) {
	if row == nil {
		return nil, eris.New("sqlite: nil run row")
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
		return nil, eris.Wrap(err, "sqlite: marshal run input")
	}
	outputJSON, err := json.Marshal(stored.Output)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run output")
	}
	snapshotJSON, err := marshalNullable(stored.PolicySnapshot)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal policy snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, org_id, posture, deal_id, input, output, policy_snapshot, input_hash, output_hash, policy_hash, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.OrgID, string(stored.Posture), stored.DealID,
		string(inputJSON), string(outputJSON), snapshotJSON,
		stored.InputHash, stored.OutputHash, stored.PolicyHash,
		stored.CreatedBy, stored.CreatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			existing, ferr := s.findRunByIdentity(ctx, stored.OrgID, stored.Posture, stored.InputHash, stored.PolicyHash)
			if ferr != nil {
				return nil, ferr
			}
			return &SaveRunResult{Run: existing, Deduped: true}, nil
		}
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &SaveRunResult{Run: &stored}, nil
}

func (s *SQLiteStore) findRunByIdentity(ctx context.Context, orgID string, posture model.Posture, inputHash, policyHash string) (*model.RunRow, error) {
	row := s.db.QueryRowContext(ctx,
		runSelectSQLite+` WHERE org_id = ? AND posture = ? AND input_hash = ? AND policy_hash = ?`,
		orgID, string(posture), inputHash, policyHash,
	)
	return scanRunRow(row)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunRow, error) {
	row := s.db.QueryRowContext(ctx, runSelectSQLite+` WHERE id = ?`, runID)
	r, err := scanRunRow(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

const runSelectSQLite = `SELECT id, org_id, posture, deal_id, input, output, policy_snapshot, input_hash, output_hash, policy_hash, created_by, created_at FROM runs`

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRow, error) {
	query := runSelectSQLite + ` WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	if filter.Posture != "" {
		query += ` AND posture = ?`
		args = append(args, string(filter.Posture))
	}
	if filter.DealID != "" {
		query += ` AND deal_id = ?`
		args = append(args, filter.DealID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRow
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs scan")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateOverride(ctx context.Context, o *model.PolicyOverride) (*model.PolicyOverride, error) {
	if o == nil {
		return nil, eris.New("sqlite: nil override")
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_overrides (id, org_id, posture, token_key, old_value, new_value, run_id, justification, requested_by, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.OrgID, string(stored.Posture), stored.TokenKey,
		rawToNullString(stored.OldValue), string(stored.NewValue), stored.RunID,
		stored.Justification, stored.RequestedBy, string(stored.Status), stored.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert override")
	}
	return &stored, nil
}

const overrideSelectSQLite = `SELECT id, org_id, posture, token_key, old_value, new_value, run_id, justification, requested_by, status, decided_by, decided_at, created_at FROM policy_overrides`

func (s *SQLiteStore) GetOverride(ctx context.Context, id string) (*model.PolicyOverride, error) {
	row := s.db.QueryRowContext(ctx, overrideSelectSQLite+` WHERE id = ?`, id)
	o, err := scanOverride(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get override %s", id)
	}
	return o, nil
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, filter OverrideFilter) ([]model.PolicyOverride, error) {
	query := overrideSelectSQLite + ` WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	if filter.Posture != "" {
		query += ` AND posture = ?`
		args = append(args, string(filter.Posture))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list overrides")
	}
	defer rows.Close()

	var overrides []model.PolicyOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list overrides scan")
		}
		overrides = append(overrides, *o)
	}
	return overrides, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) DecideOverride(ctx context.Context, id string, status model.OverrideStatus, decidedBy string) (*model.PolicyOverride, error) {
	if !status.Terminal() {
		return nil, eris.Errorf("sqlite: decision status must be terminal, got %q", status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_overrides SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), decidedBy, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decide override %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Either the row is missing or it already left pending.
		if _, err := s.GetOverride(ctx, id); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrAlreadyDecided, "sqlite: override %s", id)
	}
	return s.GetOverride(ctx, id)
}

// helpers

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func rawToNullString(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRunRow(row scannable) (*model.RunRow, error) {
	var r model.RunRow
	var posture, inputJSON, outputJSON string
	var snapshotJSON sql.NullString

	err := row.Scan(&r.ID, &r.OrgID, &posture, &r.DealID, &inputJSON, &outputJSON,
		&snapshotJSON, &r.InputHash, &r.OutputHash, &r.PolicyHash, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run row")
	}

	r.Posture = model.Posture(posture)
	if err := json.Unmarshal([]byte(inputJSON), &r.Input); err != nil {
		return nil, eris.Wrap(err, "unmarshal run input")
	}
	if err := json.Unmarshal([]byte(outputJSON), &r.Output); err != nil {
		return nil, eris.Wrap(err, "unmarshal run output")
	}
	if snapshotJSON.Valid {
		if err := json.Unmarshal([]byte(snapshotJSON.String), &r.PolicySnapshot); err != nil {
			return nil, eris.Wrap(err, "unmarshal policy snapshot")
		}
	}
	return &r, nil
}

func scanOverride(row scannable) (*model.PolicyOverride, error) {
	var o model.PolicyOverride
	var posture, status, newValue string
	var oldValue, decidedBy sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(&o.ID, &o.OrgID, &posture, &o.TokenKey, &oldValue, &newValue,
		&o.RunID, &o.Justification, &o.RequestedBy, &status, &decidedBy, &decidedAt, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan override")
	}

	o.Posture = model.Posture(posture)
	o.Status = model.OverrideStatus(status)
	o.NewValue = json.RawMessage(newValue)
	if oldValue.Valid {
		o.OldValue = json.RawMessage(oldValue.String)
	}
	if decidedBy.Valid {
		o.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		o.DecidedAt = &t
	}
	return &o, nil
}
