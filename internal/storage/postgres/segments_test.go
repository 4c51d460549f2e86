package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"consultscribe/internal/domain"
)

func TestSegmentStoreAgainstLivePostgres(t *testing.T) {
	connStr := os.Getenv("CONSULTSCRIBE_TEST_POSTGRES_URL")
	if connStr == "" {
		t.Skip("CONSULTSCRIBE_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	consultationID := uuid.NewString()
	start := time.Now().UTC().Truncate(time.Millisecond)
	segment := domain.TranscriptionSegment{ID: uuid.NewString(), ConsultationID: consultationID, StartTime: start, Status: domain.SegmentRecording}
	if err := store.SaveSegment(ctx, segment); err != nil {
		t.Fatalf("save: %v", err)
	}

	end := start.Add(30 * time.Second)
	text := "Hello, this is a test transcription"
	segment.EndTime = &end
	segment.Transcript = &text
	segment.Status = domain.SegmentCompleted
	segment.QualityMetrics = &domain.QualityMetrics{VolumeLevel: -30}
	if err := store.SaveSegment(ctx, segment); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetSegment(ctx, segment.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if got.Status != domain.SegmentCompleted || got.Transcript == nil || *got.Transcript != text || got.QualityMetrics.VolumeLevel != -30 {
		t.Fatalf("unexpected segment: %+v", got)
	}

	listed, err := store.ListSegments(ctx, consultationID)
	if err != nil || len(listed) != 1 {
		t.Fatalf("list: %+v, %v", listed, err)
	}

	missing, err := store.GetSegment(ctx, uuid.NewString())
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", missing, err)
	}
}

func TestScanSegmentMapsNullColumns(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{"s1", "c1", start, nil, nil, nil, "RECORDING", nil, nil}}

	segment, err := scanSegment(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if segment.EndTime != nil || segment.Transcript != nil || segment.QualityMetrics != nil || segment.AudioURL != "" {
		t.Fatalf("expected empty optionals: %+v", segment)
	}
	if segment.Status != domain.SegmentRecording || !segment.StartTime.Equal(start) {
		t.Fatalf("unexpected segment: %+v", segment)
	}
}

// fakeRow assigns values positionally through database/sql's Null types.
type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		v := r.values[i]
		switch target := d.(type) {
		case *string:
			*target = v.(string)
		case *time.Time:
			*target = v.(time.Time)
		case interface{ Scan(any) error }:
			if err := target.Scan(v); err != nil {
				return err
			}
		}
	}
	return nil
}
