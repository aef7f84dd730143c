package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
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
	id            TEXT PRIMARY KEY,
	geography     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	counties      INTEGER NOT NULL DEFAULT 0,
	units         INTEGER NOT NULL DEFAULT 0,
	neighborhoods INTEGER NOT NULL DEFAULT 0,
	csv_path      TEXT,
	geojson_path  TEXT,
	error         TEXT,
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at   DATETIME
);

CREATE TABLE IF NOT EXISTS county_units (
	county     TEXT NOT NULL,
	geography  TEXT NOT NULL,
	geoid      TEXT NOT NULL,
	geom       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (county, geography, geoid)
);

CREATE TABLE IF NOT EXISTS fetch_failures (
	id         TEXT PRIMARY KEY,
	county     TEXT NOT NULL,
	geography  TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL,
	failed_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_geography ON runs(geography);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_county_units_scope ON county_units(county, geography);
CREATE INDEX IF NOT EXISTS idx_fetch_failures_failed_at ON fetch_failures(failed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, geography model.Geography) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, geography, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(geography), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Geography: geography,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counties = ?, units = ?, neighborhoods = ?, csv_path = ?, geojson_path = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), run.Counties, run.Units, run.Neighborhoods,
		run.CSVPath, run.GeoJSONPath, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, geography, status, counties, units, neighborhoods, csv_path, geojson_path, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, geography, status, counties, units, neighborhoods, csv_path, geojson_path, error, started_at, finished_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Geography != "" {
		query += ` AND geography = ?`
		args = append(args, string(filter.Geography))
	}
	query += ` ORDER BY started_at DESC`

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

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetCountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, geom FROM county_units WHERE county = ? AND geography = ? ORDER BY geoid`,
		string(county), string(geography),
	)
	if err != nil {
		return geospatial.UnitLayer{}, false, eris.Wrapf(err, "sqlite: get county units %s", county)
	}
	defer rows.Close()

	layer, err := scanUnitLayer(rows, string(county))
	if err != nil {
		return geospatial.UnitLayer{}, false, err
	}
	if err := rows.Err(); err != nil {
		return geospatial.UnitLayer{}, false, eris.Wrap(err, "sqlite: get county units iterate")
	}
	if len(layer.Units) == 0 {
		return geospatial.UnitLayer{}, false, nil
	}
	return layer, true, nil
}

func (s *SQLiteStore) PutCountyUnits(ctx context.Context, county model.County, geography model.Geography, layer geospatial.UnitLayer) error {
	if layer.SRID != geospatial.SRIDWGS84 {
		return eris.Errorf("sqlite: cache requires geographic coordinates, got SRID %d", layer.SRID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM county_units WHERE county = ? AND geography = ?`,
		string(county), string(geography),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear county units %s", county)
	}

	now := time.Now().UTC()
	for _, u := range layer.Units {
		data, err := geospatial.MarshalEWKB(u.Geometry, layer.SRID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode unit %s", u.GEOID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO county_units (county, geography, geoid, geom, fetched_at) VALUES (?, ?, ?, ?, ?)`,
			string(county), string(geography), u.GEOID, data, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert unit %s", u.GEOID)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: put county units %s", county)
}

func (s *SQLiteStore) ListCountySnapshots(ctx context.Context) ([]CountySnapshot, error) {
	// Every row in a scope is written in one transaction with the same
	// fetched_at, so the bare column is well-defined under GROUP BY.
	rows, err := s.db.QueryContext(ctx,
		`SELECT county, geography, COUNT(*), fetched_at
		 FROM county_units GROUP BY county, geography ORDER BY county, geography`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list county snapshots")
	}
	defer rows.Close()

	var snapshots []CountySnapshot
	for rows.Next() {
		var cs CountySnapshot
		if err := rows.Scan(&cs.County, &cs.Geography, &cs.Units, &cs.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan county snapshot")
		}
		snapshots = append(snapshots, cs)
	}
	return snapshots, eris.Wrap(rows.Err(), "sqlite: list county snapshots iterate")
}

func (s *SQLiteStore) RecordFetchFailures(ctx context.Context, failures []model.FetchFailure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, f := range failures {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		failedAt := f.FailedAt
		if failedAt.IsZero() {
			failedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fetch_failures (id, county, geography, attempts, last_error, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(f.County), string(f.Geography), f.Attempts, f.LastError, failedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert fetch failure %s", f.County)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: record fetch failures")
}

func (s *SQLiteStore) ListFetchFailures(ctx context.Context, limit int) ([]model.FetchFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, county, geography, attempts, last_error, failed_at
		 FROM fetch_failures ORDER BY failed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fetch failures")
	}
	defer rows.Close()

	var failures []model.FetchFailure
	for rows.Next() {
		var f model.FetchFailure
		if err := rows.Scan(&f.ID, &f.County, &f.Geography, &f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fetch failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "sqlite: list fetch failures iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var csvPath, geojsonPath, errText sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Geography, &r.Status, &r.Counties, &r.Units, &r.Neighborhoods,
		&csvPath, &geojsonPath, &errText, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.CSVPath = csvPath.String
	r.GeoJSONPath = geojsonPath.String
	r.Error = errText.String
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return &r, nil
}

type unitRows interface {
	Next() bool
	Scan(dest ...any) error
}

func scanUnitLayer(rows unitRows, county string) (geospatial.UnitLayer, error) {
	layer := geospatial.UnitLayer{SRID: geospatial.SRIDWGS84}
	for rows.Next() {
		var geoid string
		var data []byte
		if err := rows.Scan(&geoid, &data); err != nil {
			return geospatial.UnitLayer{}, eris.Wrap(err, "scan county unit")
		}
		g, srid, err := geospatial.UnmarshalEWKB(data)
		if err != nil {
			return geospatial.UnitLayer{}, eris.Wrapf(err, "decode unit %s", geoid)
		}
		if len(layer.Units) == 0 {
			layer.SRID = srid
		} else if srid != layer.SRID {
			return geospatial.UnitLayer{}, eris.Errorf("county %s has mixed SRIDs %d and %d", county, layer.SRID, srid)
		}
		layer.Units = append(layer.Units, geospatial.GeographicUnit{GEOID: geoid, Geometry: g})
	}
	return layer, nil
}
