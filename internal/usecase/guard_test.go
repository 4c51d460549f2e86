package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"consultscribe/internal/domain"
)

func TestGuardStartCreatesInProgressConsultation(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	events := &fakeEventSink{}
	guard := newTestGuard(repo, events)

	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if consultation.Status != domain.ConsultationInProgress {
		t.Fatalf("unexpected status: %s", consultation.Status)
	}
	if consultation.EndTime != nil || consultation.Summary != nil {
		t.Fatalf("expected open consultation, got %+v", consultation)
	}
	if consultation.Notes == nil || len(consultation.Notes) != 0 {
		t.Fatalf("expected empty note list, got %v", consultation.Notes)
	}

	published := events.snapshotConsultations()
	if len(published) != 1 || published[0].event != domain.ConsultationStarted {
		t.Fatalf("unexpected events: %+v", published)
	}
}

func TestGuardAddNoteAppendsInOrder(t *testing.T) {
	t.Parallel()

	guard := newTestGuard(newFakeConsultationRepo(), nil)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := guard.AddNote(context.Background(), consultation.ID, "Patient reports headache"); err != nil {
		t.Fatalf("first note failed: %v", err)
	}
	updated, err := guard.AddNote(context.Background(), consultation.ID, "Prescribed rest")
	if err != nil {
		t.Fatalf("second note failed: %v", err)
	}

	if len(updated.Notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(updated.Notes))
	}
	if updated.Notes[0].Content != "Patient reports headache" || updated.Notes[1].Content != "Prescribed rest" {
		t.Fatalf("unexpected note order: %+v", updated.Notes)
	}
}

func TestGuardAddNoteUnknownConsultation(t *testing.T) {
	t.Parallel()

	guard := newTestGuard(newFakeConsultationRepo(), nil)

	_, err := guard.AddNote(context.Background(), "nope", "text")
	if err == nil || err.Error() != "Consultation with id nope not found" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !domain.IsKind(err, domain.ErrorKindNotFound) {
		t.Fatalf("expected not found kind")
	}
}

func TestGuardAddNoteAfterEndIsRejectedWithoutMutation(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	guard := newTestGuard(repo, nil)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := guard.End(context.Background(), consultation.ID); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	before := repo.mutations()

	_, err = guard.AddNote(context.Background(), consultation.ID, "late note")
	if err == nil || err.Error() != "Cannot add notes to a completed consultation" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !domain.IsKind(err, domain.ErrorKindInvalidState) {
		t.Fatalf("expected invalid state kind")
	}
	if repo.mutations() != before {
		t.Fatalf("repository was mutated by rejected note")
	}
}

func TestGuardEndCompletesAndSummarizes(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	events := &fakeEventSink{}
	guard := newTestGuard(repo, events)
	start := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	clock := start
	guard.now = func() time.Time { return clock }

	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	clock = start.Add(65 * time.Second)
	if _, err := guard.AddNote(context.Background(), consultation.ID, "BP normal"); err != nil {
		t.Fatalf("note failed: %v", err)
	}
	clock = start.Add(5*time.Minute + 12*time.Second)

	ended, err := guard.End(context.Background(), consultation.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}

	if ended.Status != domain.ConsultationCompleted {
		t.Fatalf("unexpected status: %s", ended.Status)
	}
	if ended.EndTime == nil || !ended.EndTime.Equal(clock) {
		t.Fatalf("unexpected end time: %v", ended.EndTime)
	}
	if ended.Summary == nil {
		t.Fatalf("expected summary")
	}
	for _, want := range []string{"Duration: 5 minutes 12 seconds", "Status: COMPLETED", "• BP normal (2:01:05 PM)"} {
		if !strings.Contains(ended.Summary.Content, want) {
			t.Fatalf("summary missing %q:\n%s", want, ended.Summary.Content)
		}
	}

	published := events.snapshotConsultations()
	if got := published[len(published)-1].event; got != domain.ConsultationEnded {
		t.Fatalf("expected ended event last, got %s", got)
	}
}

func TestGuardEndTwiceFails(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	guard := newTestGuard(repo, nil)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := guard.End(context.Background(), consultation.ID); err != nil {
		t.Fatalf("first end failed: %v", err)
	}
	before := repo.mutations()

	_, err = guard.End(context.Background(), consultation.ID)
	if err == nil || err.Error() != "Consultation is not in progress" {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.mutations() != before {
		t.Fatalf("repository was mutated by rejected end")
	}
}

func TestGuardEndReportsSummaryFailureAfterCompletion(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	repo.summaryErr = errors.New("write timeout")
	events := &fakeEventSink{}
	guard := newTestGuard(repo, events)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, err = guard.End(context.Background(), consultation.ID)
	if err == nil || !strings.Contains(err.Error(), "write timeout") {
		t.Fatalf("expected summary error, got %v", err)
	}

	stored, _ := guard.Get(context.Background(), consultation.ID)
	if stored.Status != domain.ConsultationCompleted || stored.Summary != nil {
		t.Fatalf("expected completed consultation without summary, got %+v", stored)
	}

	published := events.snapshotConsultations()
	last := published[len(published)-1]
	if last.event != domain.ConsultationEnded || last.consultation.Status != domain.ConsultationCompleted {
		t.Fatalf("expected ended event for the completed consultation, got %+v", last)
	}
}

func TestGuardEndSurvivesCancellationBetweenWrites(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	repo.rejectCancelled = true
	events := &fakeEventSink{}
	guard := newTestGuard(repo, events)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo.afterStatus = cancel

	ended, err := guard.End(ctx, consultation.ID)
	if err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected request context to be cancelled mid-end")
	}
	if ended.Summary == nil {
		t.Fatalf("expected summary despite cancellation")
	}

	stored, _ := guard.Get(context.Background(), consultation.ID)
	if stored.Status != domain.ConsultationCompleted || stored.Summary == nil {
		t.Fatalf("unexpected stored consultation: %+v", stored)
	}
	published := events.snapshotConsultations()
	if published[len(published)-1].event != domain.ConsultationEnded {
		t.Fatalf("expected ended event, got %+v", published)
	}
}

func TestGuardEndIgnoresAlreadyCancelledContext(t *testing.T) {
	t.Parallel()

	repo := newFakeConsultationRepo()
	repo.rejectCancelled = true
	guard := newTestGuard(repo, nil)
	consultation, err := guard.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := guard.End(ctx, consultation.ID); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}
	stored, _ := guard.Get(context.Background(), consultation.ID)
	if stored.Status != domain.ConsultationCompleted || stored.Summary == nil {
		t.Fatalf("unexpected stored consultation: %+v", stored)
	}
}

func TestGuardListNewestFirst(t *testing.T) {
	t.Parallel()

	guard := newTestGuard(newFakeConsultationRepo(), nil)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		guard.now = func() time.Time { return at }
		consultation, err := guard.Start(context.Background())
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
		ids = append(ids, consultation.ID)
	}

	listed, err := guard.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != ids[2] || listed[2].ID != ids[0] {
		t.Fatalf("unexpected order: %+v", listed)
	}
}

func newTestGuard(repo *fakeConsultationRepo, events *fakeEventSink) *ConsultationGuard {
	var guard *ConsultationGuard
	if events == nil {
		guard = NewConsultationGuard(repo, nil, GuardConfig{Location: time.UTC})
	} else {
		guard = NewConsultationGuard(repo, events, GuardConfig{Location: time.UTC})
	}
	var seq int
	guard.newID = func() string {
		seq++
		return fmt.Sprintf("consultation-%d", seq)
	}
	return guard
}

type fakeConsultationRepo struct {
	mu sync.Mutex

	items      map[string]domain.Consultation
	writes     int
	noteSeq    int
	summaryErr error

	// rejectCancelled fails writes on a cancelled context, like a database driver.
	rejectCancelled bool
	afterStatus     func()
}

func newFakeConsultationRepo() *fakeConsultationRepo {
	return &fakeConsultationRepo{items: map[string]domain.Consultation{}}
}

func (f *fakeConsultationRepo) CreateConsultation(_ context.Context, consultation domain.Consultation) (domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.items[consultation.ID] = consultation
	return consultation, nil
}

func (f *fakeConsultationRepo) UpdateStatus(ctx context.Context, id string, status domain.ConsultationStatus, endTime *time.Time) (domain.Consultation, error) {
	if f.afterStatus != nil {
		defer f.afterStatus()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectCancelled && ctx.Err() != nil {
		return domain.Consultation{}, ctx.Err()
	}
	consultation, ok := f.items[id]
	if !ok {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindNotFound, "missing")
	}
	f.writes++
	consultation.Status = status
	consultation.EndTime = endTime
	f.items[id] = consultation
	return consultation, nil
}

func (f *fakeConsultationRepo) AddNote(_ context.Context, id string, content string) (domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	consultation, ok := f.items[id]
	if !ok {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindNotFound, "missing")
	}
	f.writes++
	f.noteSeq++
	// One note every 65s after the start.
	stamp := consultation.StartTime.Add(time.Duration(f.noteSeq) * 65 * time.Second)
	consultation.Notes = append(append([]domain.Note(nil), consultation.Notes...), domain.Note{
		ID:             id + "-note",
		ConsultationID: id,
		Content:        content,
		Timestamp:      stamp,
	})
	f.items[id] = consultation
	return consultation, nil
}

func (f *fakeConsultationRepo) AddSummary(ctx context.Context, id string, content string) (domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectCancelled && ctx.Err() != nil {
		return domain.Consultation{}, ctx.Err()
	}
	if f.summaryErr != nil {
		return domain.Consultation{}, f.summaryErr
	}
	consultation, ok := f.items[id]
	if !ok {
		return domain.Consultation{}, domain.NewError(domain.ErrorKindNotFound, "missing")
	}
	f.writes++
	consultation.Summary = &domain.Summary{ID: id + "-summary", ConsultationID: id, Content: content}
	f.items[id] = consultation
	return consultation, nil
}

func (f *fakeConsultationRepo) FindByID(_ context.Context, id string) (*domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	consultation, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &consultation, nil
}

func (f *fakeConsultationRepo) List(_ context.Context) ([]domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Consultation, 0, len(f.items))
	for _, consultation := range f.items {
		out = append(out, consultation)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (f *fakeConsultationRepo) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
