// Package postgres implements the Record Store on PostgreSQL through
// database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

const columns = `id, road_state, agent_id, x, y, z, latitude, longitude, timestamp`

// Config holds connection parameters.
type Config struct {
	DSN          string
	MaxOpenConns int
	AutoMigrate  bool
	Logger       *slog.Logger
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and optionally migrates up.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres store: DSN is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.AutoMigrate {
		if err := Migrate(cfg.DSN, "up"); err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	logger.Info("postgres store opened")
	return &Store{db: db, logger: logger}, nil
}

// NewFromDB wraps an existing handle. The store takes ownership of db.
func NewFromDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Create(ctx context.Context, r record.Record) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO processed_agent_data (road_state, agent_id, x, y, z, latitude, longitude, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+columns,
		r.RoadState, r.AgentID,
		r.Accelerometer.X, r.Accelerometer.Y, r.Accelerometer.Z,
		r.GPS.Latitude, r.GPS.Longitude,
		r.Timestamp.UTC())
	out, err := scanRecord(row)
	if err != nil {
		return record.Record{}, record.NewStorageError("create", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM processed_agent_data WHERE id = $1`, id)
	out, err := scanRecord(row)
	if err != nil {
		return record.Record{}, normalize("get", err)
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]record.Record, error) {
	query := `SELECT ` + columns + ` FROM processed_agent_data`
	args := []any{}
	if f.AgentID != nil {
		args = append(args, *f.AgentID)
		query += ` WHERE agent_id = $1`
	}
	args = append(args, f.EffectiveLimit(), max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, record.NewStorageError("list", err)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, record.NewStorageError("list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, record.NewStorageError("list", err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, r record.Record) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE processed_agent_data
		 SET road_state = $1, agent_id = $2, x = $3, y = $4, z = $5, latitude = $6, longitude = $7, timestamp = $8
		 WHERE id = $9
		 RETURNING `+columns,
		r.RoadState, r.AgentID,
		r.Accelerometer.X, r.Accelerometer.Y, r.Accelerometer.Z,
		r.GPS.Latitude, r.GPS.Longitude,
		r.Timestamp.UTC(), r.ID)
	out, err := scanRecord(row)
	if err != nil {
		return record.Record{}, normalize("update", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM processed_agent_data WHERE id = $1 RETURNING `+columns, id)
	out, err := scanRecord(row)
	if err != nil {
		return record.Record{}, normalize("delete", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return record.NewStorageError("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Info("postgres store closing")
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record, error) {
	var r record.Record
	err := row.Scan(
		&r.ID, &r.RoadState, &r.AgentID,
		&r.Accelerometer.X, &r.Accelerometer.Y, &r.Accelerometer.Z,
		&r.GPS.Latitude, &r.GPS.Longitude,
		&r.Timestamp)
	if err != nil {
		return record.Record{}, err
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

func normalize(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return record.ErrNotFound
	}
	return record.NewStorageError(op, err)
}
