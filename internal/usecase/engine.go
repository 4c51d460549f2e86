package usecase

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"consultscribe/internal/domain"
	"consultscribe/internal/ports"
)

const (
	DefaultSegmentDuration    = 30 * time.Second
	DefaultMinVolumeThreshold = -60.0
)

var (
	ErrSegmentInProgress = domain.NewError(domain.ErrorKindConcurrencyConflict, "Another segment is currently being recorded")
	ErrAudioTooQuiet     = domain.NewError(domain.ErrorKindQualityRejected, "Audio volume too low")
)

// EngineConfig overrides the recording defaults. Nil fields keep the default.
type EngineConfig struct {
	SegmentDuration    *time.Duration
	MinVolumeThreshold *float64

	// ReleaseSlotOnFailure frees the in-flight slot when a segment ends FAILED.
	// Off by default: a failed segment keeps blocking new recordings until restart.
	ReleaseSlotOnFailure bool
}

// MergeConfig applies overrides on top of the defaults.
func MergeConfig(cfg EngineConfig) ports.TranscriptionConfig {
	merged := ports.TranscriptionConfig{
		SegmentDuration:    DefaultSegmentDuration,
		MinVolumeThreshold: DefaultMinVolumeThreshold,
	}
	if cfg.SegmentDuration != nil {
		merged.SegmentDuration = *cfg.SegmentDuration
	}
	if cfg.MinVolumeThreshold != nil {
		merged.MinVolumeThreshold = *cfg.MinVolumeThreshold
	}
	return merged
}

// TranscriptionEngine drives segments through RECORDING -> PROCESSING -> COMPLETED, or FAILED.
// At most one segment per engine is in flight at a time.
type TranscriptionEngine struct {
	provider ports.AudioProvider
	storage  ports.SegmentStorage
	events   ports.EventSink
	cfg      ports.TranscriptionConfig

	releaseOnFailure bool
	now              func() time.Time
	newID            func() string

	mu       sync.Mutex
	current  *domain.TranscriptionSegment
	reserved bool
	ending   map[string]struct{}
}

func NewTranscriptionEngine(
	provider ports.AudioProvider,
	storage ports.SegmentStorage,
	events ports.EventSink,
	cfg EngineConfig,
) *TranscriptionEngine {
	if events == nil {
		events = noopEvents{}
	}
	return &TranscriptionEngine{
		provider:         provider,
		storage:          storage,
		events:           events,
		cfg:              MergeConfig(cfg),
		releaseOnFailure: cfg.ReleaseSlotOnFailure,
		now:              time.Now,
		newID:            uuid.NewString,
		ending:           map[string]struct{}{},
	}
}

// Config returns the merged recording configuration.
func (e *TranscriptionEngine) Config() ports.TranscriptionConfig {
	return e.cfg
}

// StartSegment begins recording a new segment for the consultation.
func (e *TranscriptionEngine) StartSegment(ctx context.Context, consultationID string) (domain.TranscriptionSegment, error) {
	e.mu.Lock()
	if e.current != nil || e.reserved {
		e.mu.Unlock()
		return domain.TranscriptionSegment{}, ErrSegmentInProgress
	}
	e.reserved = true
	e.mu.Unlock()

	segment := domain.TranscriptionSegment{
		ID:             e.newID(),
		ConsultationID: consultationID,
		StartTime:      e.now(),
		Status:         domain.SegmentRecording,
	}

	if err := e.provider.StartRecording(ctx, e.cfg); err != nil {
		e.unreserve()
		return domain.TranscriptionSegment{}, e.failStart(ctx, segment, domain.WrapError(domain.ErrorKindProviderFailure, err))
	}

	if err := e.save(ctx, segment); err != nil {
		if _, stopErr := e.provider.StopRecording(ctx); stopErr != nil {
			log.Printf("[engine] failed to stop recording after save error for segment %s: %v", segment.ID, stopErr)
		}
		e.unreserve()
		return domain.TranscriptionSegment{}, e.failStart(ctx, segment, err)
	}

	e.mu.Lock()
	active := segment
	e.current = &active
	e.reserved = false
	e.mu.Unlock()

	return segment, nil
}

// EndSegment stops capture, gates on quality, stores the audio and transcribes it.
// Once the segment is claimed the sequence runs to a terminal write even if ctx is cancelled.
func (e *TranscriptionEngine) EndSegment(ctx context.Context, segmentID string) (domain.TranscriptionSegment, error) {
	ctx = context.WithoutCancel(ctx)

	if !e.claim(segmentID) {
		return domain.TranscriptionSegment{}, notRecording(segmentID)
	}
	defer e.release(segmentID)

	segment, err := e.storage.GetSegment(ctx, segmentID)
	if err != nil {
		return domain.TranscriptionSegment{}, err
	}
	if segment == nil {
		return domain.TranscriptionSegment{}, domain.NewError(domain.ErrorKindNotFound, fmt.Sprintf("Segment %s not found", segmentID))
	}
	if segment.Status != domain.SegmentRecording {
		return domain.TranscriptionSegment{}, notRecording(segmentID)
	}

	completed, err := e.finishSegment(ctx, *segment)
	if err != nil {
		if !domain.IsKind(err, domain.ErrorKindQualityRejected) {
			e.persistFailure(ctx, *segment, err)
		}
		if e.releaseOnFailure {
			e.clearCurrent()
		}
		return domain.TranscriptionSegment{}, err
	}

	e.clearCurrent()
	return completed, nil
}

// GetSegments lists the stored segments of a consultation.
func (e *TranscriptionEngine) GetSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error) {
	return e.storage.ListSegments(ctx, consultationID)
}

// Current returns the segment occupying the in-flight slot, if any.
func (e *TranscriptionEngine) Current() (domain.TranscriptionSegment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return domain.TranscriptionSegment{}, false
	}
	return *e.current, true
}

func (e *TranscriptionEngine) finishSegment(ctx context.Context, segment domain.TranscriptionSegment) (result domain.TranscriptionSegment, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = domain.TranscriptionSegment{}
			err = domain.NewError(domain.ErrorKindUnknownFailure, fmt.Sprint(recovered))
		}
	}()

	audio, err := e.provider.StopRecording(ctx)
	if err != nil {
		return result, domain.WrapError(domain.ErrorKindProviderFailure, err)
	}

	metrics, err := e.provider.AudioQualityMetrics(ctx, audio)
	if err != nil {
		return result, domain.WrapError(domain.ErrorKindProviderFailure, err)
	}

	if metrics.VolumeLevel < e.cfg.MinVolumeThreshold {
		rejected := segment
		endTime := e.now()
		rejected.EndTime = &endTime
		rejected.Status = domain.SegmentFailed
		rejected.QualityMetrics = &metrics
		rejected.Error = ErrAudioTooQuiet.Message
		if err := e.save(ctx, rejected); err != nil {
			return result, err
		}
		return result, ErrAudioTooQuiet
	}

	audioURL, err := e.storage.SaveAudio(ctx, segment.ID, audio)
	if err != nil {
		return result, err
	}

	processing := segment
	endTime := e.now()
	processing.EndTime = &endTime
	processing.AudioURL = audioURL
	processing.Status = domain.SegmentProcessing
	processing.QualityMetrics = &metrics
	if err := e.save(ctx, processing); err != nil {
		return result, err
	}

	transcript, err := e.provider.TranscribeAudio(ctx, audio, e.cfg)
	if err != nil {
		return result, domain.WrapError(domain.ErrorKindProviderFailure, err)
	}

	completed := processing
	completed.Status = domain.SegmentCompleted
	completed.Transcript = &transcript
	if err := e.save(ctx, completed); err != nil {
		return result, err
	}
	return completed, nil
}

func (e *TranscriptionEngine) failStart(ctx context.Context, segment domain.TranscriptionSegment, cause error) error {
	segment.Status = domain.SegmentFailed
	segment.Error = failureMessage(cause, "Failed to start recording")
	if err := e.save(context.WithoutCancel(ctx), segment); err != nil {
		log.Printf("[engine] failed to persist failed segment %s: %v", segment.ID, err)
	}
	return cause
}

func (e *TranscriptionEngine) persistFailure(ctx context.Context, segment domain.TranscriptionSegment, cause error) {
	endTime := e.now()
	segment.EndTime = &endTime
	segment.Status = domain.SegmentFailed
	segment.Error = failureMessage(cause, "Transcription failed")
	if err := e.save(ctx, segment); err != nil {
		log.Printf("[engine] failed to persist failed segment %s: %v", segment.ID, err)
	}
}

func (e *TranscriptionEngine) save(ctx context.Context, segment domain.TranscriptionSegment) error {
	if err := e.storage.SaveSegment(ctx, segment); err != nil {
		return err
	}
	e.events.SegmentChanged(segment)
	return nil
}

// claim marks segmentID as ending. A second caller for the same id loses until release.
func (e *TranscriptionEngine) claim(segmentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.ending[segmentID]; busy {
		return false
	}
	e.ending[segmentID] = struct{}{}
	return true
}

func (e *TranscriptionEngine) release(segmentID string) {
	e.mu.Lock()
	delete(e.ending, segmentID)
	e.mu.Unlock()
}

func (e *TranscriptionEngine) unreserve() {
	e.mu.Lock()
	e.reserved = false
	e.mu.Unlock()
}

func (e *TranscriptionEngine) clearCurrent() {
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

func notRecording(segmentID string) error {
	return domain.NewError(domain.ErrorKindInvalidState, fmt.Sprintf("Segment %s is not in recording state", segmentID))
}

func failureMessage(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}

type noopEvents struct{}

func (noopEvents) SegmentChanged(domain.TranscriptionSegment)                          {}
func (noopEvents) ConsultationChanged(domain.Consultation, domain.ConsultationEvent) {}
