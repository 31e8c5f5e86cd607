package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Transcript is the text the upload server returned for a recording.
type Transcript struct {
	ID          int64
	RecordingID int64
	Content     string
	ServerURL   string
	CreatedAt   time.Time
}

// SetTranscript stores a transcript for a recording. Earlier transcripts for
// the same recording are kept; the latest one wins in TranscriptFor.
func (db *DB) SetTranscript(ctx context.Context, t *Transcript) error {
	result, err := db.db.ExecContext(ctx,
		"INSERT INTO transcripts (recording_id, content, server_url) VALUES (?, ?, ?)",
		t.RecordingID, t.Content, t.ServerURL)
	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transcript ID: %w", err)
	}
	t.ID = id
	t.CreatedAt = time.Now()
	return nil
}

// TranscriptFor returns the most recent transcript of a recording.
func (db *DB) TranscriptFor(ctx context.Context, recordingID int64) (*Transcript, error) {
	var t Transcript
	err := db.db.QueryRowContext(ctx, `
		SELECT id, recording_id, content, server_url, created_at
		FROM transcripts WHERE recording_id = ?
		ORDER BY id DESC LIMIT 1`, recordingID).Scan(
		&t.ID,
		&t.RecordingID,
		&t.Content,
		&t.ServerURL,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transcript for recording %d: %w", recordingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}
