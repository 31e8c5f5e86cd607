package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Recording sources.
const (
	SourceSession = "session"
	SourceImport  = "import"
)

// Recording is a cataloged audio artifact.
type Recording struct {
	ID              int64
	SessionID       string
	Filename        string
	FilePath        string
	Format          string
	MIME            string
	FileSize        int64
	DurationSeconds *float64
	SampleRate      int
	Channels        int
	Mode            string
	MixRatio        *float64
	Source          string
	Warnings        []string
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
}

// warningSep separates warnings in the warnings column.
const warningSep = "\n"

const recordingColumns = `id, session_id, filename, file_path, format, mime_type,
	file_size, duration_seconds, sample_rate, channels, recording_mode, mix_ratio,
	source, warnings, started_at, finished_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var r Recording
	var duration, mixRatio sql.NullFloat64
	var warnings sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.Filename,
		&r.FilePath,
		&r.Format,
		&r.MIME,
		&r.FileSize,
		&duration,
		&r.SampleRate,
		&r.Channels,
		&r.Mode,
		&mixRatio,
		&r.Source,
		&warnings,
		&startedAt,
		&finishedAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.DurationSeconds = float64Ptr(duration)
	r.MixRatio = float64Ptr(mixRatio)
	if warnings.Valid && warnings.String != "" {
		r.Warnings = strings.Split(warnings.String, warningSep)
	}
	r.StartedAt = startedAt.Time
	r.FinishedAt = finishedAt.Time
	return &r, nil
}

// AddRecording inserts r and sets its ID and CreatedAt.
func (db *DB) AddRecording(ctx context.Context, r *Recording) error {
	if r.Source == "" {
		r.Source = SourceSession
	}
	query := `
		INSERT INTO recordings (
			session_id, filename, file_path, format, mime_type, file_size,
			duration_seconds, sample_rate, channels, recording_mode, mix_ratio,
			source, warnings, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.db.ExecContext(ctx, query,
		r.SessionID,
		r.Filename,
		r.FilePath,
		r.Format,
		r.MIME,
		r.FileSize,
		nullFloat64(r.DurationSeconds),
		r.SampleRate,
		r.Channels,
		r.Mode,
		nullFloat64(r.MixRatio),
		r.Source,
		nullString(strings.Join(r.Warnings, warningSep)),
		nullTime(r.StartedAt),
		nullTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get recording ID: %w", err)
	}
	r.ID = id
	r.CreatedAt = time.Now()
	db.log.Debugf("Cataloged recording %d (%s)", r.ID, r.FilePath)
	return nil
}

// GetRecording returns the recording with the given ID.
func (db *DB) GetRecording(ctx context.Context, id int64) (*Recording, error) {
	row := db.db.QueryRowContext(ctx,
		"SELECT "+recordingColumns+" FROM recordings WHERE id = ?", id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return r, nil
}

// GetRecordingByPath returns the recording stored at path.
func (db *DB) GetRecordingByPath(ctx context.Context, path string) (*Recording, error) {
	row := db.db.QueryRowContext(ctx,
		"SELECT "+recordingColumns+" FROM recordings WHERE file_path = ?", path)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return r, nil
}

// ListOptions filters ListRecordings.
type ListOptions struct {
	Limit  int
	Offset int
	// Mode, when set, only returns recordings made in that mode.
	Mode string
}

// ListRecordings returns recordings, newest first.
func (db *DB) ListRecordings(ctx context.Context, opts ListOptions) ([]*Recording, error) {
	query := "SELECT " + recordingColumns + " FROM recordings WHERE 1=1"
	var args []any
	if opts.Mode != "" {
		query += " AND recording_mode = ?"
		args = append(args, opts.Mode)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var res []*Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recordings: %w", err)
	}
	return res, nil
}

// DeleteRecording removes a recording and its transcripts.
func (db *DB) DeleteRecording(ctx context.Context, id int64) error {
	result, err := db.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	return nil
}
