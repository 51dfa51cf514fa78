// Package journal is the durable, append-only log of deployment
// transitions, kept in a local SQLite file so it survives restarts and
// stays readable when everything else is down.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the journal database at the given path and runs all pending
// migrations. Use ":memory:" for an in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

type Journal struct {
	DB *sql.DB
}

// WriteTransitions appends transitions in order and reports how many made
// it in before the first failure.
func (j *Journal) WriteTransitions(ctx context.Context, transitions []models.Transition) (int, error) {
	for i, t := range transitions {
		_, err := j.DB.ExecContext(ctx,
			`INSERT INTO transitions (service, from_state, to_state, fingerprint, reason, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			t.Service, string(t.From), string(t.To),
			string(t.Fingerprint), t.Reason, t.Time.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return i, fmt.Errorf("insert transition: %w", err)
		}
	}
	return len(transitions), nil
}

// History returns the most recent transitions of a service, newest first.
func (j *Journal) History(ctx context.Context, service string, limit int) ([]models.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT service, from_state, to_state, fingerprint, reason, occurred_at
		 FROM transitions WHERE service = ? ORDER BY id DESC LIMIT ?`,
		service, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var transitions []models.Transition
	for rows.Next() {
		var t models.Transition
		var from, to, fp, occurredAt string
		if err := rows.Scan(&t.Service, &from, &to, &fp, &t.Reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = models.DeploymentState(from)
		t.To = models.DeploymentState(to)
		t.Fingerprint = models.Fingerprint(fp)
		ts, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		t.Time = ts
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
