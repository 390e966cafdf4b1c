// Package store persists generation run history to SQLite.
package store

import (
	"context"
	"database/sql"
	"time"

	"comicgen/pkg/db"
	"comicgen/pkg/model"
)

// Store records completed orchestrations and serves them back, newest first.
type Store interface {
	SaveRun(ctx context.Context, rec *model.RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]*model.RunRecord, error)
	Close() error
}

// SQLiteStore implements Store on top of pkg/db.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun persists one completed orchestration.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *model.RunRecord) error {
	query := `INSERT INTO runs (
		transcript_path, room_id, script_path, script_source,
		image_path, provider, model, elapsed_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.TranscriptPath, rec.RoomID, rec.ScriptPath, rec.ScriptSource,
		rec.ImagePath, rec.Provider, rec.Model, rec.Elapsed.Milliseconds(), createdAt,
	)
	return err
}

// RecentRuns returns up to limit runs, most recent first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]*model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT transcript_path, room_id, script_path, script_source, image_path, provider, model, elapsed_ms, created_at
			  FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var scriptPath, scriptSource, imagePath, provider, mdl sql.NullString
		var elapsedMS sql.NullInt64
		var createdAt sql.NullTime
		err := rows.Scan(
			&r.TranscriptPath, &r.RoomID, &scriptPath, &scriptSource,
			&imagePath, &provider, &mdl, &elapsedMS, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.ScriptPath = scriptPath.String
		r.ScriptSource = scriptSource.String
		r.ImagePath = imagePath.String
		r.Provider = provider.String
		r.Model = mdl.String
		if elapsedMS.Valid {
			r.Elapsed = time.Duration(elapsedMS.Int64) * time.Millisecond
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
