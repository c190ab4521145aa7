// Package sqlite implements the Record Store on an embedded SQLite database.
//
// Connections come from a zombiezen sqlitex pool. Every connection is
// prepared with WAL journaling and a busy timeout, and the schema is
// created on first use, so a fresh file needs no migration step.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_agent_data (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	road_state TEXT    NOT NULL,
	agent_id   INTEGER NOT NULL,
	x          REAL    NOT NULL,
	y          REAL    NOT NULL,
	z          REAL    NOT NULL,
	latitude   REAL    NOT NULL,
	longitude  REAL    NOT NULL,
	timestamp  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS processed_agent_data_agent_id ON processed_agent_data (agent_id, id);
`

const columns = `id, road_state, agent_id, x, y, z, latitude, longitude, timestamp`

// Config holds the parameters for opening the store.
type Config struct {
	// Path is the database file. ":memory:" is accepted but forces a pool
	// of one, since each in-memory connection is its own database.
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

// Store is a SQLite-backed store.Store.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var _ store.Store = (*Store)(nil)

// Open creates the pool. Connections are initialized lazily on first Take.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}
	if cfg.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// prepareConnection applies pragmas and ensures the schema exists. It runs
// once per pooled connection.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) take(ctx context.Context, op string) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, record.NewStorageError(op, err)
	}
	return conn, nil
}

// Create inserts r and returns it with the row id.
func (s *Store) Create(ctx context.Context, r record.Record) (_ record.Record, err error) {
	conn, err := s.take(ctx, "create")
	if err != nil {
		return record.Record{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return record.Record{}, record.NewStorageError("create", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO processed_agent_data (road_state, agent_id, x, y, z, latitude, longitude, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: recordArgs(r)})
	if err != nil {
		return record.Record{}, record.NewStorageError("create", err)
	}

	r.ID = conn.LastInsertRowID()
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// Get returns record.ErrNotFound for an absent id.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	conn, err := s.take(ctx, "get")
	if err != nil {
		return record.Record{}, err
	}
	defer s.pool.Put(conn)

	return s.get(conn, id)
}

func (s *Store) get(conn *sqlite.Conn, id int64) (record.Record, error) {
	var (
		found   bool
		out     record.Record
		scanErr error
	)
	err := sqlitex.Execute(conn,
		`SELECT `+columns+` FROM processed_agent_data WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				out, scanErr = scanRecord(stmt)
				return scanErr
			},
		})
	if err != nil {
		return record.Record{}, record.NewStorageError("get", err)
	}
	if !found {
		return record.Record{}, record.ErrNotFound
	}
	return out, nil
}

// List returns records ordered by id.
func (s *Store) List(ctx context.Context, f store.Filter) ([]record.Record, error) {
	conn, err := s.take(ctx, "list")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `SELECT ` + columns + ` FROM processed_agent_data`
	args := []any{}
	if f.AgentID != nil {
		query += ` WHERE agent_id = ?`
		args = append(args, *f.AgentID)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, f.EffectiveLimit(), max(f.Offset, 0))

	out := []record.Record{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		},
	})
	if err != nil {
		return nil, record.NewStorageError("list", err)
	}
	return out, nil
}

// Update replaces the row with r.ID.
func (s *Store) Update(ctx context.Context, r record.Record) (_ record.Record, err error) {
	conn, err := s.take(ctx, "update")
	if err != nil {
		return record.Record{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return record.Record{}, record.NewStorageError("update", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`UPDATE processed_agent_data
		 SET road_state = ?, agent_id = ?, x = ?, y = ?, z = ?, latitude = ?, longitude = ?, timestamp = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: append(recordArgs(r), r.ID)})
	if err != nil {
		return record.Record{}, record.NewStorageError("update", err)
	}
	if conn.Changes() == 0 {
		return record.Record{}, record.ErrNotFound
	}

	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// Delete removes the row inside one IMMEDIATE transaction so the returned
// record is exactly what was removed.
func (s *Store) Delete(ctx context.Context, id int64) (deleted record.Record, err error) {
	conn, err := s.take(ctx, "delete")
	if err != nil {
		return record.Record{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return record.Record{}, record.NewStorageError("delete", err)
	}
	defer endTransaction(&err)

	deleted, err = s.get(conn, id)
	if err != nil {
		return record.Record{}, err
	}

	if err = sqlitex.Execute(conn, `DELETE FROM processed_agent_data WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return record.Record{}, record.NewStorageError("delete", err)
	}
	return deleted, nil
}

// Ping takes a connection and runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.take(ctx, "ping")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "SELECT 1", nil); err != nil {
		return record.NewStorageError("ping", err)
	}
	return nil
}

// Close closes every connection. It blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error", "path", s.path, "error", err)
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func recordArgs(r record.Record) []any {
	return []any{
		r.RoadState,
		r.AgentID,
		r.Accelerometer.X,
		r.Accelerometer.Y,
		r.Accelerometer.Z,
		r.GPS.Latitude,
		r.GPS.Longitude,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func scanRecord(stmt *sqlite.Stmt) (record.Record, error) {
	ts, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(8))
	if err != nil {
		return record.Record{}, fmt.Errorf("parsing timestamp of row %d: %w", stmt.ColumnInt64(0), err)
	}
	return record.Record{
		ID:        stmt.ColumnInt64(0),
		RoadState: stmt.ColumnText(1),
		AgentID:   stmt.ColumnInt64(2),
		Accelerometer: record.Accelerometer{
			X: stmt.ColumnFloat(3),
			Y: stmt.ColumnFloat(4),
			Z: stmt.ColumnFloat(5),
		},
		GPS: record.GPS{
			Latitude:  stmt.ColumnFloat(6),
			Longitude: stmt.ColumnFloat(7),
		},
		Timestamp: ts.UTC(),
	}, nil
}
