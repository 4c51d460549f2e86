// Package sqlite stores consultations and segments in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"consultscribe/internal/domain"
	"consultscribe/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS consultations (
	id TEXT PRIMARY KEY,
	startTime REAL NOT NULL,
	endTime REAL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	consultationId TEXT NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	timestamp REAL NOT NULL,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	consultationId TEXT NOT NULL UNIQUE REFERENCES consultations(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	createdAt REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	consultationId TEXT NOT NULL,
	startTime REAL NOT NULL,
	endTime REAL,
	audioUrl TEXT,
	transcript TEXT,
	status TEXT NOT NULL,
	volumeLevel REAL,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_notes_consultation ON notes(consultationId, seq);
CREATE INDEX IF NOT EXISTS idx_segments_consultation ON segments(consultationId, startTime);
`

// Store implements both ports.ConsultationRepository and ports.SegmentStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateConsultation(ctx context.Context, consultation domain.Consultation) (domain.Consultation, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consultations (id, startTime, endTime, status) VALUES (?, ?, ?, ?)`,
		consultation.ID, unixFromTime(consultation.StartTime), nullableUnix(consultation.EndTime), string(consultation.Status))
	if err != nil {
		return domain.Consultation{}, fmt.Errorf("insert consultation: %w", err)
	}
	return s.mustFind(ctx, consultation.ID)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.ConsultationStatus, endTime *time.Time) (domain.Consultation, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET status = ?, endTime = COALESCE(?, endTime) WHERE id = ?`,
		string(status), nullableUnix(endTime), id)
	if err != nil {
		return domain.Consultation{}, fmt.Errorf("update consultation: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return domain.Consultation{}, err
	}
	return s.mustFind(ctx, id)
}

func (s *Store) AddNote(ctx context.Context, id string, content string) (domain.Consultation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Consultation{}, fmt.Errorf("begin note: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT MAX(seq) FROM notes WHERE consultationId = ?), 0) FROM consultations WHERE id = ?`,
		id, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Consultation{}, storage.ConsultationNotFound(id)
	}
	if err != nil {
		return domain.Consultation{}, fmt.Errorf("query note sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (id, consultationId, content, timestamp, seq) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), id, content, unixFromTime(s.now()), seq+1); err != nil {
		return domain.Consultation{}, fmt.Errorf("insert note: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Consultation{}, fmt.Errorf("commit note: %w", err)
	}
	return s.mustFind(ctx, id)
}

func (s *Store) AddSummary(ctx context.Context, id string, content string) (domain.Consultation, error) {
	exists, err := s.exists(ctx, id)
	if err != nil {
		return domain.Consultation{}, err
	}
	if !exists {
		return domain.Consultation{}, storage.ConsultationNotFound(id)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, consultationId, content, createdAt) VALUES (?, ?, ?, ?)
		ON CONFLICT (consultationId) DO UPDATE SET content = excluded.content, createdAt = excluded.createdAt
	`, uuid.NewString(), id, content, unixFromTime(s.now())); err != nil {
		return domain.Consultation{}, fmt.Errorf("upsert summary: %w", err)
	}
	return s.mustFind(ctx, id)
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Consultation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.startTime, c.endTime, c.status, sm.id, sm.content, sm.createdAt
		FROM consultations c
		LEFT JOIN summaries sm ON sm.consultationId = c.id
		WHERE c.id = ?
	`, id)

	consultation, err := scanConsultation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	notes, err := s.notesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	consultation.Notes = notes
	return &consultation, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Consultation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.startTime, c.endTime, c.status, sm.id, sm.content, sm.createdAt
		FROM consultations c
		LEFT JOIN summaries sm ON sm.consultationId = c.id
		ORDER BY c.startTime DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}

	out := []domain.Consultation{}
	for rows.Next() {
		consultation, err := scanConsultation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, consultation)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Notes are loaded after the cursor is closed; the pool holds a single connection.
	for i := range out {
		notes, err := s.notesFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Notes = notes
	}
	return out, nil
}

func (s *Store) SaveSegment(ctx context.Context, segment domain.TranscriptionSegment) error {
	var volume sql.NullFloat64
	if segment.QualityMetrics != nil {
		volume = sql.NullFloat64{Float64: segment.QualityMetrics.VolumeLevel, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, consultationId, startTime, endTime, audioUrl, transcript, status, volumeLevel, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			consultationId = excluded.consultationId,
			startTime = excluded.startTime,
			endTime = excluded.endTime,
			audioUrl = excluded.audioUrl,
			transcript = excluded.transcript,
			status = excluded.status,
			volumeLevel = excluded.volumeLevel,
			error = excluded.error
	`,
		segment.ID, segment.ConsultationID, unixFromTime(segment.StartTime), nullableUnix(segment.EndTime),
		nullableString(segment.AudioURL), segment.Transcript, string(segment.Status), volume, nullableString(segment.Error))
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

func (s *Store) GetSegment(ctx context.Context, id string) (*domain.TranscriptionSegment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, consultationId, startTime, endTime, audioUrl, transcript, status, volumeLevel, error
		FROM segments WHERE id = ?
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

func (s *Store) ListSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, consultationId, startTime, endTime, audioUrl, transcript, status, volumeLevel, error
		FROM segments WHERE consultationId = ?
		ORDER BY startTime ASC
	`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	out := []domain.TranscriptionSegment{}
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, segment)
	}
	return out, rows.Err()
}

func (s *Store) notesFor(ctx context.Context, consultationID string) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, consultationId, content, timestamp
		FROM notes WHERE consultationId = ?
		ORDER BY seq ASC
	`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := []domain.Note{}
	for rows.Next() {
		var note domain.Note
		var ts float64
		if err := rows.Scan(&note.ID, &note.ConsultationID, &note.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.Timestamp = timeFromUnix(ts)
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM consultations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query consultation: %w", err)
	}
	return true, nil
}

func (s *Store) mustFind(ctx context.Context, id string) (domain.Consultation, error) {
	consultation, err := s.FindByID(ctx, id)
	if err != nil {
		return domain.Consultation{}, err
	}
	if consultation == nil {
		return domain.Consultation{}, storage.ConsultationNotFound(id)
	}
	return *consultation, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConsultation(row scanner) (domain.Consultation, error) {
	var (
		c         domain.Consultation
		start     float64
		end       sql.NullFloat64
		status    string
		summaryID sql.NullString
		summary   sql.NullString
		summaryAt sql.NullFloat64
	)
	if err := row.Scan(&c.ID, &start, &end, &status, &summaryID, &summary, &summaryAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan consultation: %w", err)
	}

	c.StartTime = timeFromUnix(start)
	c.Status = domain.ConsultationStatus(status)
	if end.Valid {
		t := timeFromUnix(end.Float64)
		c.EndTime = &t
	}
	if summaryID.Valid {
		c.Summary = &domain.Summary{
			ID:             summaryID.String,
			ConsultationID: c.ID,
			Content:        summary.String,
			CreatedAt:      timeFromUnix(summaryAt.Float64),
		}
	}
	return c, nil
}

func scanSegment(row scanner) (domain.TranscriptionSegment, error) {
	var (
		seg        domain.TranscriptionSegment
		start      float64
		end        sql.NullFloat64
		audioURL   sql.NullString
		transcript sql.NullString
		status     string
		volume     sql.NullFloat64
		failure    sql.NullString
	)
	if err := row.Scan(&seg.ID, &seg.ConsultationID, &start, &end, &audioURL, &transcript, &status, &volume, &failure); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return seg, err
		}
		return seg, fmt.Errorf("scan segment: %w", err)
	}

	seg.StartTime = timeFromUnix(start)
	seg.Status = domain.SegmentStatus(status)
	seg.AudioURL = audioURL.String
	seg.Error = failure.String
	if end.Valid {
		t := timeFromUnix(end.Float64)
		seg.EndTime = &t
	}
	if transcript.Valid {
		text := transcript.String
		seg.Transcript = &text
	}
	if volume.Valid {
		seg.QualityMetrics = &domain.QualityMetrics{VolumeLevel: volume.Float64}
	}
	return seg, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ConsultationNotFound(id)
	}
	return nil
}

// Times are stored as fractional unix seconds, rounded to the microsecond on read.
func unixFromTime(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func timeFromUnix(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1e6)))
}

func nullableUnix(t *time.Time) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: unixFromTime(*t), Valid: true}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
