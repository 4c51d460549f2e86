// Package events turns persisted state changes into named notifications.
package events

import (
	"log"
	"sync"
	"time"

	"consultscribe/internal/domain"
	"consultscribe/internal/ports"
)

const (
	NameSegment      = "consultscribe:segment"
	NameConsultation = "consultscribe:consultation"
)

// Event is the envelope pushed to subscribers.
type Event struct {
	Name         string                       `json:"name"`
	At           time.Time                    `json:"at"`
	Change       domain.ConsultationEvent     `json:"change,omitempty"`
	Segment      *domain.TranscriptionSegment `json:"segment,omitempty"`
	Consultation *domain.Consultation         `json:"consultation,omitempty"`
}

func SegmentEvent(segment domain.TranscriptionSegment, at time.Time) Event {
	return Event{Name: NameSegment, At: at, Segment: &segment}
}

func ConsultationEvent(consultation domain.Consultation, change domain.ConsultationEvent, at time.Time) Event {
	return Event{Name: NameConsultation, At: at, Change: change, Consultation: &consultation}
}

// LogSink writes one log line per change.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink logs through logger, or the standard logger when nil.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SegmentChanged(segment domain.TranscriptionSegment) {
	if segment.Status == domain.SegmentFailed {
		s.logger.Printf("[events] segment %s (consultation %s) %s: %s", segment.ID, segment.ConsultationID, segment.Status, segment.Error)
		return
	}
	s.logger.Printf("[events] segment %s (consultation %s) %s", segment.ID, segment.ConsultationID, segment.Status)
}

func (s *LogSink) ConsultationChanged(consultation domain.Consultation, change domain.ConsultationEvent) {
	s.logger.Printf("[events] consultation %s %s (%s, %d notes)", consultation.ID, change, consultation.Status, len(consultation.Notes))
}

// Fanout delivers each change to every sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []ports.EventSink
}

func NewFanout(sinks ...ports.EventSink) *Fanout {
	f := &Fanout{}
	for _, sink := range sinks {
		f.Add(sink)
	}
	return f
}

// Add registers another sink. Nil sinks are ignored.
func (f *Fanout) Add(sink ports.EventSink) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
}

func (f *Fanout) SegmentChanged(segment domain.TranscriptionSegment) {
	for _, sink := range f.snapshot() {
		sink.SegmentChanged(segment)
	}
}

func (f *Fanout) ConsultationChanged(consultation domain.Consultation, change domain.ConsultationEvent) {
	for _, sink := range f.snapshot() {
		sink.ConsultationChanged(consultation, change)
	}
}

func (f *Fanout) snapshot() []ports.EventSink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]ports.EventSink(nil), f.sinks...)
}
