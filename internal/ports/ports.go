package ports

import (
	"context"
	"io"
	"time"

	"consultscribe/internal/domain"
)

// TranscriptionConfig is the merged recording configuration handed to the audio provider.
type TranscriptionConfig struct {
	SegmentDuration    time.Duration
	MinVolumeThreshold float64
}

// AudioProvider records audio, measures its quality and transcribes it.
type AudioProvider interface {
	StartRecording(ctx context.Context, cfg TranscriptionConfig) error
	StopRecording(ctx context.Context) (domain.Audio, error)
	TranscribeAudio(ctx context.Context, audio domain.Audio, cfg TranscriptionConfig) (string, error)
	AudioQualityMetrics(ctx context.Context, audio domain.Audio) (domain.QualityMetrics, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	MaxDuration time.Duration
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// TranscriptionBackend turns a captured blob into text.
type TranscriptionBackend interface {
	Transcribe(ctx context.Context, audio domain.Audio) (string, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// AudioStore persists audio blobs and returns a reference URL.
type AudioStore interface {
	SaveAudio(ctx context.Context, segmentID string, audio domain.Audio) (string, error)
}

// SegmentStore persists transcription segments. SaveSegment is a full-replace upsert by id.
// GetSegment returns nil, nil when the id is unknown.
type SegmentStore interface {
	SaveSegment(ctx context.Context, segment domain.TranscriptionSegment) error
	GetSegment(ctx context.Context, id string) (*domain.TranscriptionSegment, error)
	ListSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error)
}

// SegmentStorage is everything the transcription engine needs from storage.
type SegmentStorage interface {
	AudioStore
	SegmentStore
}

// ConsultationRepository persists consultations. FindByID returns nil, nil when the id is unknown;
// List orders by start time, newest first.
type ConsultationRepository interface {
	CreateConsultation(ctx context.Context, consultation domain.Consultation) (domain.Consultation, error)
	UpdateStatus(ctx context.Context, id string, status domain.ConsultationStatus, endTime *time.Time) (domain.Consultation, error)
	AddNote(ctx context.Context, id string, content string) (domain.Consultation, error)
	AddSummary(ctx context.Context, id string, content string) (domain.Consultation, error)
	FindByID(ctx context.Context, id string) (*domain.Consultation, error)
	List(ctx context.Context) ([]domain.Consultation, error)
}

// EventSink publishes persisted state changes.
type EventSink interface {
	SegmentChanged(segment domain.TranscriptionSegment)
	ConsultationChanged(consultation domain.Consultation, event domain.ConsultationEvent)
}
