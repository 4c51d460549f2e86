package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"consultscribe/internal/domain"
	"consultscribe/internal/storage/memory"
	"consultscribe/internal/usecase"
)

func TestServerListsTools(t *testing.T) {
	t.Parallel()

	s := New("test", newGuard(), &fakeSegments{})
	response := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	encoded, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	for _, name := range []string{"start_consultation", "add_note", "end_consultation", "get_consultation", "list_consultations", "start_segment", "end_segment", "list_segments"} {
		if !strings.Contains(string(encoded), `"`+name+`"`) {
			t.Fatalf("tool %s missing from %s", name, encoded)
		}
	}
}

func TestConsultationTools(t *testing.T) {
	t.Parallel()

	tl := &tools{consultations: newGuard(), segments: &fakeSegments{}}
	started := decode[domain.Consultation](t, call(t, tl.startConsultation, nil))
	if started.Status != domain.ConsultationInProgress {
		t.Fatalf("unexpected status: %s", started.Status)
	}

	noted := decode[domain.Consultation](t, call(t, tl.addNote, map[string]any{"consultation_id": started.ID, "content": "Rash on left arm"}))
	if len(noted.Notes) != 1 || noted.Notes[0].Content != "Rash on left arm" {
		t.Fatalf("unexpected notes: %+v", noted.Notes)
	}

	ended := decode[domain.Consultation](t, call(t, tl.endConsultation, map[string]any{"consultation_id": started.ID}))
	if ended.Summary == nil || !strings.Contains(ended.Summary.Content, "• Rash on left arm") {
		t.Fatalf("unexpected summary: %+v", ended.Summary)
	}

	fetched := decode[domain.Consultation](t, call(t, tl.getConsultation, map[string]any{"consultation_id": started.ID}))
	if fetched.Status != domain.ConsultationCompleted {
		t.Fatalf("unexpected status: %s", fetched.Status)
	}

	listed := decode[[]domain.Consultation](t, call(t, tl.listConsultations, nil))
	if len(listed) != 1 {
		t.Fatalf("unexpected list: %+v", listed)
	}

	late := call(t, tl.addNote, map[string]any{"consultation_id": started.ID, "content": "late"})
	if !late.IsError || !strings.Contains(textOf(t, late), "Cannot add notes to a completed consultation") {
		t.Fatalf("expected tool error, got %+v", late)
	}
}

func TestToolErrors(t *testing.T) {
	t.Parallel()

	tl := &tools{consultations: newGuard(), segments: &fakeSegments{}}

	missingArg := call(t, tl.endConsultation, map[string]any{})
	if !missingArg.IsError {
		t.Fatalf("expected error for missing argument")
	}

	unknown := call(t, tl.getConsultation, map[string]any{"consultation_id": "nope"})
	if !unknown.IsError || textOf(t, unknown) != "not_found: Consultation with id nope not found" {
		t.Fatalf("unexpected result: %q", textOf(t, unknown))
	}
}

func TestSegmentTools(t *testing.T) {
	t.Parallel()

	segments := &fakeSegments{}
	tl := &tools{consultations: newGuard(), segments: segments}

	consultation := decode[domain.Consultation](t, call(t, tl.startConsultation, nil))

	started := decode[domain.TranscriptionSegment](t, call(t, tl.startSegment, map[string]any{"consultation_id": consultation.ID}))
	if started.Status != domain.SegmentRecording || started.ConsultationID != consultation.ID {
		t.Fatalf("unexpected segment: %+v", started)
	}

	segments.startErr = usecase.ErrSegmentInProgress
	busy := call(t, tl.startSegment, map[string]any{"consultation_id": consultation.ID})
	if !busy.IsError || textOf(t, busy) != "concurrency_conflict: Another segment is currently being recorded" {
		t.Fatalf("unexpected result: %q", textOf(t, busy))
	}

	ended := decode[domain.TranscriptionSegment](t, call(t, tl.endSegment, map[string]any{"segment_id": started.ID}))
	if ended.Status != domain.SegmentCompleted {
		t.Fatalf("unexpected status: %s", ended.Status)
	}

	listed := decode[[]domain.TranscriptionSegment](t, call(t, tl.listSegments, map[string]any{"consultation_id": consultation.ID}))
	if len(listed) != 1 || listed[0].ID != started.ID {
		t.Fatalf("unexpected segments: %+v", listed)
	}

	empty := decode[[]domain.TranscriptionSegment](t, call(t, tl.listSegments, map[string]any{"consultation_id": "other"}))
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %+v", empty)
	}
}

func TestStartSegmentRejectsCompletedConsultation(t *testing.T) {
	t.Parallel()

	segments := &fakeSegments{}
	tl := &tools{consultations: newGuard(), segments: segments}
	consultation := decode[domain.Consultation](t, call(t, tl.startConsultation, nil))
	call(t, tl.endConsultation, map[string]any{"consultation_id": consultation.ID})

	res := call(t, tl.startSegment, map[string]any{"consultation_id": consultation.ID})
	if !res.IsError || segments.starts != 0 {
		t.Fatalf("expected rejection without engine call, got %q (starts=%d)", textOf(t, res), segments.starts)
	}
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, handler toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var request mcp.CallToolRequest
	if args != nil {
		request.Params.Arguments = args
	}
	res, err := handler(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected protocol error: %v", err)
	}
	return res
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	switch content := res.Content[0].(type) {
	case mcp.TextContent:
		return content.Text
	case *mcp.TextContent:
		return content.Text
	default:
		t.Fatalf("unexpected content type %T", content)
		return ""
	}
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	var out T
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("unexpected payload: %v", err)
	}
	return out
}

func newGuard() *usecase.ConsultationGuard {
	return usecase.NewConsultationGuard(memory.NewConsultationRepository(), nil, usecase.GuardConfig{Location: time.UTC})
}

type fakeSegments struct {
	startErr error
	starts   int
	stored   []domain.TranscriptionSegment
	current  *domain.TranscriptionSegment
}

func (f *fakeSegments) StartSegment(_ context.Context, consultationID string) (domain.TranscriptionSegment, error) {
	f.starts++
	if f.startErr != nil {
		return domain.TranscriptionSegment{}, f.startErr
	}
	segment := domain.TranscriptionSegment{ID: "segment-1", ConsultationID: consultationID, Status: domain.SegmentRecording}
	f.current = &segment
	return segment, nil
}

func (f *fakeSegments) EndSegment(_ context.Context, segmentID string) (domain.TranscriptionSegment, error) {
	if f.current == nil || f.current.ID != segmentID {
		return domain.TranscriptionSegment{}, domain.NewError(domain.ErrorKindNotFound, "Segment "+segmentID+" not found")
	}
	done := *f.current
	done.Status = domain.SegmentCompleted
	f.stored = append(f.stored, done)
	f.current = nil
	return done, nil
}

func (f *fakeSegments) GetSegments(_ context.Context, consultationID string) ([]domain.TranscriptionSegment, error) {
	var out []domain.TranscriptionSegment
	for _, segment := range f.stored {
		if segment.ConsultationID == consultationID {
			out = append(out, segment)
		}
	}
	return out, nil
}
