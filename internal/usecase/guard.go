package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consultscribe/internal/domain"
	"consultscribe/internal/ports"
)

// GuardConfig controls summary rendering.
type GuardConfig struct {
	Location *time.Location
}

// ConsultationGuard is the only path through which consultations are mutated.
type ConsultationGuard struct {
	repo   ports.ConsultationRepository
	events ports.EventSink
	loc    *time.Location

	now   func() time.Time
	newID func() string
}

func NewConsultationGuard(repo ports.ConsultationRepository, events ports.EventSink, cfg GuardConfig) *ConsultationGuard {
	if events == nil {
		events = noopEvents{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ConsultationGuard{
		repo:   repo,
		events: events,
		loc:    cfg.Location,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Start opens a new consultation.
func (g *ConsultationGuard) Start(ctx context.Context) (domain.Consultation, error) {
	consultation := domain.Consultation{
		ID:        g.newID(),
		StartTime: g.now(),
		Status:    domain.ConsultationInProgress,
		Notes:     []domain.Note{},
	}

	created, err := g.repo.CreateConsultation(ctx, consultation)
	if err != nil {
		return domain.Consultation{}, err
	}
	g.events.ConsultationChanged(created, domain.ConsultationStarted)
	return created, nil
}

// AddNote appends a note to an in-progress consultation.
func (g *ConsultationGuard) AddNote(ctx context.Context, id string, content string) (domain.Consultation, error) {
	consultation, err := g.Get(ctx, id)
	if err != nil {
		return domain.Consultation{}, err
	}
	if consultation.Status != domain.ConsultationInProgress {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindInvalidState, "Cannot add notes to a completed consultation")
	}

	updated, err := g.repo.AddNote(ctx, id, content)
	if err != nil {
		return domain.Consultation{}, err
	}
	g.events.ConsultationChanged(updated, domain.ConsultationNoteAdded)
	return updated, nil
}

// End completes the consultation, then attaches its summary. Both writes run even if
// ctx is cancelled. A failed summary write leaves a completed consultation without a
// summary; the ended event is still published for it.
func (g *ConsultationGuard) End(ctx context.Context, id string) (domain.Consultation, error) {
	ctx = context.WithoutCancel(ctx)

	consultation, err := g.Get(ctx, id)
	if err != nil {
		return domain.Consultation{}, err
	}
	if consultation.Status != domain.ConsultationInProgress {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindInvalidState, "Consultation is not in progress")
	}

	endTime := g.now()
	completed, err := g.repo.UpdateStatus(ctx, id, domain.ConsultationCompleted, &endTime)
	if err != nil {
		return domain.Consultation{}, err
	}

	summary := GenerateSummary(completed, g.now(), g.loc)
	final, err := g.repo.AddSummary(ctx, id, summary)
	if err != nil {
		g.events.ConsultationChanged(completed, domain.ConsultationEnded)
		return domain.Consultation{}, fmt.Errorf("failed to store summary for completed consultation %s: %w", id, err)
	}
	g.events.ConsultationChanged(final, domain.ConsultationEnded)
	return final, nil
}

// Get loads one consultation.
func (g *ConsultationGuard) Get(ctx context.Context, id string) (domain.Consultation, error) {
	consultation, err := g.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Consultation{}, err
	}
	if consultation == nil {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindNotFound, fmt.Sprintf("Consultation with id %s not found", id))
	}
	return *consultation, nil
}

// List returns every consultation, newest first.
func (g *ConsultationGuard) List(ctx context.Context) ([]domain.Consultation, error) {
	return g.repo.List(ctx)
}
