// Package store archives extraction results in a SQL database.
//
// SQLite (pure Go, modernc.org/sqlite) is the default; PostgreSQL is
// reached through the pgx database/sql driver. Every extraction is a run;
// rods are kept as one row per accepted point and projections as their
// raw bin grid.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"hesxrd/internal/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSQLitePath  = "hesxrd.db"
	defaultPostgresDSN = "postgres://localhost/hesxrd?sslmode=disable"
)

// Kinds of run.
const (
	KindRod        = "rod"
	KindProjection = "hk"
)

var (
	ErrUnknownDriver = errors.New("store: unknown driver")
	ErrRunNotFound   = errors.New("store: run not found")
)

// Store is an open results archive. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the archive and creates the tables if needed. An
// empty dsn selects hesxrd.db for SQLite and a local database for
// PostgreSQL.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		if dsn == "" {
			dsn = defaultPostgresDSN
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logging.Logger().Debug("results archive opened", "driver", driver)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) migrate(ctx context.Context) error {
	id, blob := "INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"
	if s.driver == DriverPostgres {
		id, blob = "BIGSERIAL PRIMARY KEY", "BYTEA"
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id ` + id + `,
			kind TEXT NOT NULL,
			created TEXT NOT NULL,
			images INTEGER NOT NULL,
			experiment TEXT NOT NULL,
			note TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rod_points (
			run_id BIGINT NOT NULL REFERENCES runs(id),
			row_index INTEGER NOT NULL,
			h DOUBLE PRECISION NOT NULL,
			k DOUBLE PRECISION NOT NULL,
			l DOUBLE PRECISION NOT NULL,
			intensity DOUBLE PRECISION NOT NULL,
			structure_factor DOUBLE PRECISION NOT NULL,
			fit_error DOUBLE PRECISION NOT NULL,
			function TEXT NOT NULL,
			PRIMARY KEY (run_id, row_index)
		)`,
		`CREATE TABLE IF NOT EXISTS projections (
			id ` + id + `,
			run_id BIGINT NOT NULL REFERENCES runs(id),
			l DOUBLE PRECISION NOT NULL,
			resolution INTEGER NOT NULL,
			h_bins INTEGER NOT NULL,
			k_bins INTEGER NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			grid ` + blob + ` NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Run describes one archived extraction.
type Run struct {
	ID         int64
	Kind       string
	Created    time.Time
	Images     int
	Experiment string
	Note       string
}

// CreateRun records a new run and returns its id. experiment is the
// experiment file the run used.
func (s *Store) CreateRun(ctx context.Context, kind string, images int, experiment, note string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO runs(kind, created, images, experiment, note) VALUES(?,?,?,?,?) RETURNING id`),
		kind, time.Now().UTC().Format(time.RFC3339Nano), images, experiment, note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Runs lists all runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, created, images, experiment, note FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var runs []Run
	for rows.Next() {
		var (
			r       Run
			created string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &created, &r.Images, &r.Experiment, &r.Note); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %d: parse created: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) run(ctx context.Context, id int64) (Run, error) {
	var (
		r       Run
		created string
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, kind, created, images, experiment, note FROM runs WHERE id = ?`), id,
	).Scan(&r.ID, &r.Kind, &created, &r.Images, &r.Experiment, &r.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("select run %d: %w", id, err)
	}
	r.Created, err = time.Parse(time.RFC3339Nano, created)
	return r, err
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
