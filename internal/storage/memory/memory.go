// Package memory keeps consultations, segments and audio in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"consultscribe/internal/domain"
	"consultscribe/internal/storage"
)

// ConsultationRepository is a mutex-guarded map of consultations.
type ConsultationRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Consultation
	now   func() time.Time
}

func NewConsultationRepository() *ConsultationRepository {
	return &ConsultationRepository{items: map[string]domain.Consultation{}, now: time.Now}
}

func (r *ConsultationRepository) CreateConsultation(_ context.Context, consultation domain.Consultation) (domain.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[consultation.ID]; exists {
		return domain.Consultation{}, fmt.Errorf("consultation %s already exists", consultation.ID)
	}
	if consultation.Notes == nil {
		consultation.Notes = []domain.Note{}
	}
	r.items[consultation.ID] = cloneConsultation(consultation)
	return cloneConsultation(consultation), nil
}

func (r *ConsultationRepository) UpdateStatus(_ context.Context, id string, status domain.ConsultationStatus, endTime *time.Time) (domain.Consultation, error) {
	return r.mutate(id, func(c *domain.Consultation) {
		c.Status = status
		if endTime != nil {
			end := *endTime
			c.EndTime = &end
		}
	})
}

func (r *ConsultationRepository) AddNote(_ context.Context, id string, content string) (domain.Consultation, error) {
	return r.mutate(id, func(c *domain.Consultation) {
		c.Notes = append(c.Notes, domain.Note{
			ID:             uuid.NewString(),
			ConsultationID: id,
			Content:        content,
			Timestamp:      r.now(),
		})
	})
}

func (r *ConsultationRepository) AddSummary(_ context.Context, id string, content string) (domain.Consultation, error) {
	return r.mutate(id, func(c *domain.Consultation) {
		c.Summary = &domain.Summary{
			ID:             uuid.NewString(),
			ConsultationID: id,
			Content:        content,
			CreatedAt:      r.now(),
		}
	})
}

func (r *ConsultationRepository) FindByID(_ context.Context, id string) (*domain.Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	consultation, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	out := cloneConsultation(consultation)
	return &out, nil
}

func (r *ConsultationRepository) List(_ context.Context) ([]domain.Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Consultation, 0, len(r.items))
	for _, consultation := range r.items {
		out = append(out, cloneConsultation(consultation))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (r *ConsultationRepository) mutate(id string, apply func(*domain.Consultation)) (domain.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	consultation, ok := r.items[id]
	if !ok {
		return domain.Consultation{}, storage.ConsultationNotFound(id)
	}
	consultation = cloneConsultation(consultation)
	apply(&consultation)
	r.items[id] = consultation
	return cloneConsultation(consultation), nil
}

func cloneConsultation(c domain.Consultation) domain.Consultation {
	out := c
	out.Notes = append([]domain.Note{}, c.Notes...)
	if c.EndTime != nil {
		end := *c.EndTime
		out.EndTime = &end
	}
	if c.Summary != nil {
		summary := *c.Summary
		out.Summary = &summary
	}
	return out
}

// SegmentStore keeps segments and their audio in memory. Audio URLs use the memory:// scheme.
type SegmentStore struct {
	mu       sync.RWMutex
	segments map[string]domain.TranscriptionSegment
	audio    map[string]domain.Audio
}

func NewSegmentStore() *SegmentStore {
	return &SegmentStore{
		segments: map[string]domain.TranscriptionSegment{},
		audio:    map[string]domain.Audio{},
	}
}

func (s *SegmentStore) SaveAudio(_ context.Context, segmentID string, audio domain.Audio) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := audio
	stored.Data = append([]byte(nil), audio.Data...)
	s.audio[segmentID] = stored
	return "memory://audio/" + segmentID, nil
}

// Audio returns a stored blob.
func (s *SegmentStore) Audio(segmentID string) (domain.Audio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.audio[segmentID]
	return audio, ok
}

func (s *SegmentStore) SaveSegment(_ context.Context, segment domain.TranscriptionSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[segment.ID] = cloneSegment(segment)
	return nil
}

func (s *SegmentStore) GetSegment(_ context.Context, id string) (*domain.TranscriptionSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segment, ok := s.segments[id]
	if !ok {
		return nil, nil
	}
	out := cloneSegment(segment)
	return &out, nil
}

func (s *SegmentStore) ListSegments(_ context.Context, consultationID string) ([]domain.TranscriptionSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.TranscriptionSegment{}
	for _, segment := range s.segments {
		if segment.ConsultationID == consultationID {
			out = append(out, cloneSegment(segment))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func cloneSegment(s domain.TranscriptionSegment) domain.TranscriptionSegment {
	out := s
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	if s.Transcript != nil {
		text := *s.Transcript
		out.Transcript = &text
	}
	if s.QualityMetrics != nil {
		metrics := *s.QualityMetrics
		out.QualityMetrics = &metrics
	}
	return out
}
