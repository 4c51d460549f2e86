// Package postgres stores transcription segments in PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"consultscribe/internal/domain"
)

const segmentSchema = `
CREATE TABLE IF NOT EXISTS transcription_segments (
	id TEXT PRIMARY KEY,
	consultation_id TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	audio_url TEXT,
	transcript TEXT,
	status TEXT NOT NULL,
	volume_level DOUBLE PRECISION,
	error TEXT
);
CREATE INDEX IF NOT EXISTS transcription_segments_consultation_idx
	ON transcription_segments (consultation_id, start_time);
`

// SegmentStore implements ports.SegmentStore.
type SegmentStore struct {
	db *sql.DB
}

// Open connects with a lib/pq connection string and ensures the table exists.
func Open(ctx context.Context, connStr string) (*SegmentStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &SegmentStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSegmentStore wraps an existing pool. Call Migrate before first use.
func NewSegmentStore(db *sql.DB) *SegmentStore {
	return &SegmentStore{db: db}
}

func (s *SegmentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, segmentSchema); err != nil {
		return fmt.Errorf("migrate transcription_segments: %w", err)
	}
	return nil
}

func (s *SegmentStore) Close() error {
	return s.db.Close()
}

func (s *SegmentStore) SaveSegment(ctx context.Context, segment domain.TranscriptionSegment) error {
	var volume sql.NullFloat64
	if segment.QualityMetrics != nil {
		volume = sql.NullFloat64{Float64: segment.QualityMetrics.VolumeLevel, Valid: true}
	}

	query := `
        INSERT INTO transcription_segments
            (id, consultation_id, start_time, end_time, audio_url, transcript, status, volume_level, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id)
        DO UPDATE SET
            consultation_id = EXCLUDED.consultation_id,
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            audio_url = EXCLUDED.audio_url,
            transcript = EXCLUDED.transcript,
            status = EXCLUDED.status,
            volume_level = EXCLUDED.volume_level,
            error = EXCLUDED.error
    `
	_, err := s.db.ExecContext(ctx, query,
		segment.ID,
		segment.ConsultationID,
		segment.StartTime.UTC(),
		nullTime(segment),
		nullString(segment.AudioURL),
		segment.Transcript,
		string(segment.Status),
		volume,
		nullString(segment.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save segment %s: %w", segment.ID, err)
	}
	return nil
}

func (s *SegmentStore) GetSegment(ctx context.Context, id string) (*domain.TranscriptionSegment, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, consultation_id, start_time, end_time, audio_url, transcript, status, volume_level, error
        FROM transcription_segments WHERE id = $1
    `, id)
	segment, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &segment, nil
}

func (s *SegmentStore) ListSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, consultation_id, start_time, end_time, audio_url, transcript, status, volume_level, error
        FROM transcription_segments WHERE consultation_id = $1
        ORDER BY start_time ASC
    `, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := []domain.TranscriptionSegment{}
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (domain.TranscriptionSegment, error) {
	var (
		segment    domain.TranscriptionSegment
		endTime    sql.NullTime
		audioURL   sql.NullString
		transcript sql.NullString
		status     string
		volume     sql.NullFloat64
		failure    sql.NullString
	)
	err := row.Scan(&segment.ID, &segment.ConsultationID, &segment.StartTime, &endTime,
		&audioURL, &transcript, &status, &volume, &failure)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return segment, err
		}
		return segment, fmt.Errorf("failed to scan segment: %w", err)
	}

	segment.Status = domain.SegmentStatus(status)
	segment.AudioURL = audioURL.String
	segment.Error = failure.String
	if endTime.Valid {
		end := endTime.Time
		segment.EndTime = &end
	}
	if transcript.Valid {
		text := transcript.String
		segment.Transcript = &text
	}
	if volume.Valid {
		segment.QualityMetrics = &domain.QualityMetrics{VolumeLevel: volume.Float64}
	}
	return segment, nil
}

func nullTime(segment domain.TranscriptionSegment) sql.NullTime {
	if segment.EndTime == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: segment.EndTime.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
