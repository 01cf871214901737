// Package postgres implements history.Recorder backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/lambdaq/internal/history"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const recordColumns = `session_id, request_id, status, payload, response,
	error_type, error_response, function_arn, finished_at`

// Recorder implements history.Recorder backed by a PostgreSQL database.
type Recorder struct {
	db *sql.DB
}

// Compile-time check that Recorder implements history.Recorder.
var _ history.Recorder = (*Recorder)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*Recorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Recorder{db: db}, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Record upserts a finished invocation. Outcomes are terminal, so a second
// write for the same key only happens when a caller retries.
func (r *Recorder) Record(ctx context.Context, rec *history.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invocations (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, request_id) DO UPDATE SET
			status = EXCLUDED.status,
			response = EXCLUDED.response,
			error_type = EXCLUDED.error_type,
			error_response = EXCLUDED.error_response,
			finished_at = EXCLUDED.finished_at`,
		rec.SessionID,
		rec.RequestID,
		rec.Status.String(),
		rec.Payload,
		nullString(rec.Response),
		nullString(rec.ErrorType),
		nullString(rec.ErrorBody),
		rec.FunctionARN,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record invocation %s: %w", rec.RequestID, err)
	}
	return nil
}

// List returns records newest first, optionally filtered by session.
func (r *Recorder) List(ctx context.Context, sessionID string, limit int) ([]*history.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM invocations`
	var args []any
	if sessionID != "" {
		args = append(args, sessionID)
		query += fmt.Sprintf(" WHERE session_id = $%d", len(args))
	}
	query += " ORDER BY finished_at DESC, request_id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []*history.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*history.Record, error) {
	var (
		rec                            history.Record
		status                         string
		response, errorType, errorBody sql.NullString
	)
	if err := rows.Scan(
		&rec.SessionID,
		&rec.RequestID,
		&status,
		&rec.Payload,
		&response,
		&errorType,
		&errorBody,
		&rec.FunctionARN,
		&rec.FinishedAt,
	); err != nil {
		return nil, fmt.Errorf("scan invocation: %w", err)
	}
	parsed, err := model.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan invocation %s: %w", rec.RequestID, err)
	}
	rec.Status = parsed
	rec.Response = response.String
	rec.ErrorType = errorType.String
	rec.ErrorBody = errorBody.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
