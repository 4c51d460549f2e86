package domain

import "time"

// ConsultationStatus models the consultation lifecycle.
type ConsultationStatus string

const (
	ConsultationInProgress ConsultationStatus = "IN_PROGRESS"
	ConsultationCompleted  ConsultationStatus = "COMPLETED"
)

// SegmentStatus models the recording/transcription lifecycle of one segment.
type SegmentStatus string

const (
	SegmentRecording  SegmentStatus = "RECORDING"
	SegmentProcessing SegmentStatus = "PROCESSING"
	SegmentCompleted  SegmentStatus = "COMPLETED"
	SegmentFailed     SegmentStatus = "FAILED"
)

// Terminal reports whether no further transition may leave the status.
func (s SegmentStatus) Terminal() bool {
	return s == SegmentCompleted || s == SegmentFailed
}

// ConsultationEvent identifies which consultation transition was published.
type ConsultationEvent string

const (
	ConsultationStarted   ConsultationEvent = "started"
	ConsultationNoteAdded ConsultationEvent = "note_added"
	ConsultationEnded     ConsultationEvent = "ended"
)

// Note is an immutable free-text entry recorded during a consultation.
type Note struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultationId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Summary is the generated text produced when a consultation ends.
type Summary struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultationId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Consultation owns its notes and summary by composition.
type Consultation struct {
	ID        string             `json:"id"`
	StartTime time.Time          `json:"startTime"`
	EndTime   *time.Time         `json:"endTime"`
	Status    ConsultationStatus `json:"status"`
	Notes     []Note             `json:"notes"`
	Summary   *Summary           `json:"summary"`
}

// QualityMetrics describes a captured audio blob.
type QualityMetrics struct {
	VolumeLevel float64 `json:"volumeLevel"`
}

// TranscriptionSegment is one bounded recording+transcription attempt.
type TranscriptionSegment struct {
	ID             string          `json:"id"`
	ConsultationID string          `json:"consultationId"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime"`
	AudioURL       string          `json:"audioUrl,omitempty"`
	Transcript     *string         `json:"transcript"`
	Status         SegmentStatus   `json:"status"`
	QualityMetrics *QualityMetrics `json:"qualityMetrics,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Audio is a captured PCM blob.
type Audio struct {
	Data       []byte `json:"-"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a streaming backend.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
