// Package storage persists the scorer parameters, the counterparty history
// and emitted run events.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/scorer"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements scorer.ModelStore, features.HistoryStore and
// events.Sink on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

var (
	_ scorer.ModelStore     = (*SQLiteStore)(nil)
	_ features.HistoryStore = (*SQLiteStore)(nil)
	_ events.Sink           = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "open database", err).
			WithContext("path", path)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "open database", err).
			WithContext("path", path)
	}

	store := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.WithComponent("storage").WithField("path", path),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return rerrors.StorageError(rerrors.CodeMigrationFailed, "load migrations", err)
	}
	defer src.Close()

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return rerrors.StorageError(rerrors.CodeMigrationFailed, "migration driver", err)
	}
	// The migrate instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return rerrors.StorageError(rerrors.CodeMigrationFailed, "migration setup", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return rerrors.StorageError(rerrors.CodeMigrationFailed, "apply migrations", err)
	}
	version, _, _ := m.Version()
	s.logger.WithField("schema_version", version).Debug("Database migrated")
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadModel(ctx context.Context) (*scorer.ModelParams, error) {
	var (
		params    scorer.ModelParams
		weights   string
		trainedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, weights, bias, samples, accuracy, trained_at FROM model_params WHERE id = 1`,
	).Scan(&params.Version, &weights, &params.Bias, &params.Samples, &params.Accuracy, &trainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scorer.ErrModelNotFound
	}
	if err != nil {
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "load model", err)
	}

	if err := json.Unmarshal([]byte(weights), &params.Weights); err != nil {
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "decode model weights", err)
	}
	if params.TrainedAt, err = time.Parse(time.RFC3339Nano, trainedAt); err != nil {
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "decode model timestamp", err)
	}
	return &params, nil
}

func (s *SQLiteStore) SaveModel(ctx context.Context, params *scorer.ModelParams) error {
	weights, err := json.Marshal(params.Weights)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "encode model weights", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_params (id, version, weights, bias, samples, accuracy, trained_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			weights = excluded.weights,
			bias = excluded.bias,
			samples = excluded.samples,
			accuracy = excluded.accuracy,
			trained_at = excluded.trained_at`,
		params.Version, string(weights), params.Bias, params.Samples, params.Accuracy,
		params.TrainedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "save model", err)
	}
	s.logger.WithField("model_version", params.Version).Debug("Model saved")
	return nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context) (features.HistorySnapshot, error) {
	snapshot := features.HistorySnapshot{Counts: make(map[string]map[string]int)}

	err := s.db.QueryRowContext(ctx, `SELECT version FROM history_meta WHERE id = 1`).Scan(&snapshot.Version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snapshot, rerrors.StorageError(rerrors.CodePersistenceFailed, "load history", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT vendor_id, counterparty_name, match_count FROM counterparty_history`)
	if err != nil {
		return snapshot, rerrors.StorageError(rerrors.CodePersistenceFailed, "load history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			vendor, name string
			count        int
		)
		if err := rows.Scan(&vendor, &name, &count); err != nil {
			return snapshot, rerrors.StorageError(rerrors.CodePersistenceFailed, "scan history", err)
		}
		if snapshot.Counts[vendor] == nil {
			snapshot.Counts[vendor] = make(map[string]int)
		}
		snapshot.Counts[vendor][name] = count
	}
	if err := rows.Err(); err != nil {
		return snapshot, rerrors.StorageError(rerrors.CodePersistenceFailed, "scan history", err)
	}
	return snapshot, nil
}

// SaveHistory replaces the stored history with snapshot in one transaction.
func (s *SQLiteStore) SaveHistory(ctx context.Context, snapshot features.HistorySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "save history", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM counterparty_history`); err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "save history", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO counterparty_history (vendor_id, counterparty_name, match_count) VALUES (?, ?, ?)`)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "save history", err)
	}
	defer stmt.Close()

	for vendor, names := range snapshot.Counts {
		for name, count := range names {
			if _, err := stmt.ExecContext(ctx, vendor, name, count); err != nil {
				return rerrors.StorageError(rerrors.CodePersistenceFailed, "save history", err).
					WithContext("vendor_id", vendor)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_meta (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version`, snapshot.Version); err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "save history", err)
	}

	if err := tx.Commit(); err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "commit history", err)
	}
	return nil
}

// Publish records the event in run_events.
func (s *SQLiteStore) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "encode event", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, kind, payload, occurred_at) VALUES (?, ?, ?, ?)`,
		event.ID, string(event.Kind), string(payload), event.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "record event", err).
			WithContext("event_id", event.ID)
	}
	return nil
}

// RecentEvents returns up to limit events of kind, newest first. An empty
// kind matches every event.
func (s *SQLiteStore) RecentEvents(ctx context.Context, kind events.Kind, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM run_events
		WHERE (? = '' OR kind = ?)
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "list events", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "scan event", err)
		}
		var e events.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, rerrors.StorageError(rerrors.CodePersistenceFailed, "decode event", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
