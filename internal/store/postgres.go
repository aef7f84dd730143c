package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/db"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.TxPool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":       `INSERT INTO runs (id, geography, status, started_at) VALUES ($1, $2, $3, $4)`,
	"complete_run":     `UPDATE runs SET status = $1, counties = $2, units = $3, neighborhoods = $4, csv_path = $5, geojson_path = $6, finished_at = $7 WHERE id = $8`,
	"fail_run":         `UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
	"get_run":          `SELECT id, geography, status, counties, units, neighborhoods, csv_path, geojson_path, error, started_at, finished_at FROM runs WHERE id = $1`,
	"get_county_units": `SELECT geoid, geom FROM county_units WHERE county = $1 AND geography = $2 ORDER BY geoid`,
	"list_failures":    `SELECT id, county, geography, attempts, last_error, failed_at FROM fetch_failures ORDER BY failed_at DESC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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
	id            TEXT PRIMARY KEY,
	geography     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	counties      INTEGER NOT NULL DEFAULT 0,
	units         INTEGER NOT NULL DEFAULT 0,
	neighborhoods INTEGER NOT NULL DEFAULT 0,
	csv_path      TEXT,
	geojson_path  TEXT,
	error         TEXT,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS county_units (
	county     TEXT NOT NULL,
	geography  TEXT NOT NULL,
	geoid      TEXT NOT NULL,
	geom       BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (county, geography, geoid)
);

CREATE TABLE IF NOT EXISTS fetch_failures (
	id         TEXT PRIMARY KEY,
	county     TEXT NOT NULL,
	geography  TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_geography ON runs(geography);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_county_units_scope ON county_units(county, geography);
CREATE INDEX IF NOT EXISTS idx_fetch_failures_failed_at ON fetch_failures(failed_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

func (s *PostgresStore) CreateRun(ctx context.Context, geography model.Geography) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, geography, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(geography), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Geography: geography,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, counties = $2, units = $3, neighborhoods = $4, csv_path = $5, geojson_path = $6, finished_at = $7 WHERE id = $8`,
		string(model.RunStatusComplete), run.Counties, run.Units, run.Neighborhoods,
		run.CSVPath, run.GeoJSONPath, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, geography, status, counties, units, neighborhoods, csv_path, geojson_path, error, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanRunPgx(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, geography, status, counties, units, neighborhoods, csv_path, geojson_path, error, started_at, finished_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Geography != "" {
		query += fmt.Sprintf(` AND geography = $%d`, argIdx)
		args = append(args, string(filter.Geography))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunPgx(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetCountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, geom FROM county_units WHERE county = $1 AND geography = $2 ORDER BY geoid`,
		string(county), string(geography),
	)
	if err != nil {
		return geospatial.UnitLayer{}, false, eris.Wrapf(err, "postgres: get county units %s", county)
	}
	defer rows.Close()

	layer, err := scanUnitLayer(rows, string(county))
	if err != nil {
		return geospatial.UnitLayer{}, false, err
	}
	if err := rows.Err(); err != nil {
		return geospatial.UnitLayer{}, false, eris.Wrap(err, "postgres: get county units iterate")
	}
	if len(layer.Units) == 0 {
		return geospatial.UnitLayer{}, false, nil
	}
	return layer, true, nil
}

func (s *PostgresStore) PutCountyUnits(ctx context.Context, county model.County, geography model.Geography, layer geospatial.UnitLayer) error {
	if layer.SRID != geospatial.SRIDWGS84 {
		return eris.Errorf("postgres: cache requires geographic coordinates, got SRID %d", layer.SRID)
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(layer.Units))
	for _, u := range layer.Units {
		data, err := geospatial.MarshalEWKB(u.Geometry, layer.SRID)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode unit %s", u.GEOID)
		}
		rows = append(rows, []any{string(county), string(geography), u.GEOID, data, now})
	}

	_, err := db.BulkReplace(ctx, s.pool, db.ReplaceConfig{
		Table:     "county_units",
		Columns:   []string{"county", "geography", "geoid", "geom", "fetched_at"},
		ScopeCols: []string{"county", "geography"},
	}, []any{string(county), string(geography)}, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: put county units %s", county)
	}
	return nil
}

func (s *PostgresStore) ListCountySnapshots(ctx context.Context) ([]CountySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT county, geography, COUNT(*), MAX(fetched_at)
		 FROM county_units GROUP BY county, geography ORDER BY county, geography`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list county snapshots")
	}
	defer rows.Close()

	var snapshots []CountySnapshot
	for rows.Next() {
		var cs CountySnapshot
		if err := rows.Scan(&cs.County, &cs.Geography, &cs.Units, &cs.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan county snapshot")
		}
		snapshots = append(snapshots, cs)
	}
	return snapshots, eris.Wrap(rows.Err(), "postgres: list county snapshots iterate")
}

func (s *PostgresStore) RecordFetchFailures(ctx context.Context, failures []model.FetchFailure) error {
	if len(failures) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(failures))
	for _, f := range failures {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		failedAt := f.FailedAt
		if failedAt.IsZero() {
			failedAt = now
		}
		rows = append(rows, []any{id, string(f.County), string(f.Geography), f.Attempts, f.LastError, failedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "fetch_failures",
		[]string{"id", "county", "geography", "attempts", "last_error", "failed_at"}, rows)
	if err != nil {
		return eris.Wrap(err, "postgres: record fetch failures")
	}
	return nil
}

func (s *PostgresStore) ListFetchFailures(ctx context.Context, limit int) ([]model.FetchFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, county, geography, attempts, last_error, failed_at FROM fetch_failures ORDER BY failed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fetch failures")
	}
	defer rows.Close()

	var failures []model.FetchFailure
	for rows.Next() {
		var f model.FetchFailure
		if err := rows.Scan(&f.ID, &f.County, &f.Geography, &f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fetch failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "postgres: list fetch failures iterate")
}

func scanRunPgx(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var csvPath, geojsonPath, errText *string
	var finishedAt *time.Time

	err := row.Scan(&r.ID, &r.Geography, &r.Status, &r.Counties, &r.Units, &r.Neighborhoods,
		&csvPath, &geojsonPath, &errText, &r.StartedAt, &finishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, err
	}

	if csvPath != nil {
		r.CSVPath = *csvPath
	}
	if geojsonPath != nil {
		r.GeoJSONPath = *geojsonPath
	}
	if errText != nil {
		r.Error = *errText
	}
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	return &r, nil
}
