// Package mcpserver exposes consultation and recording actions as MCP tools so an
// assistant can drive a consultation over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"consultscribe/internal/domain"
)

// Consultations is the consultation lifecycle the tools drive.
type Consultations interface {
	Start(ctx context.Context) (domain.Consultation, error)
	AddNote(ctx context.Context, id string, content string) (domain.Consultation, error)
	End(ctx context.Context, id string) (domain.Consultation, error)
	Get(ctx context.Context, id string) (domain.Consultation, error)
	List(ctx context.Context) ([]domain.Consultation, error)
}

// Segments is the recording lifecycle the tools drive.
type Segments interface {
	StartSegment(ctx context.Context, consultationID string) (domain.TranscriptionSegment, error)
	EndSegment(ctx context.Context, segmentID string) (domain.TranscriptionSegment, error)
	GetSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error)
}

type tools struct {
	consultations Consultations
	segments      Segments
}

// New registers every tool on a fresh MCP server.
func New(version string, consultations Consultations, segments Segments) *server.MCPServer {
	s := server.NewMCPServer("consultscribe", version, server.WithToolCapabilities(false))
	t := &tools{consultations: consultations, segments: segments}

	s.AddTool(mcp.NewTool("start_consultation",
		mcp.WithDescription("Start a new consultation and return it."),
	), t.startConsultation)

	s.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to an in-progress consultation."),
		mcp.WithString("consultation_id", mcp.Required(), mcp.Description("Consultation id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
	), t.addNote)

	s.AddTool(mcp.NewTool("end_consultation",
		mcp.WithDescription("Complete a consultation and generate its summary."),
		mcp.WithString("consultation_id", mcp.Required(), mcp.Description("Consultation id")),
	), t.endConsultation)

	s.AddTool(mcp.NewTool("get_consultation",
		mcp.WithDescription("Fetch one consultation with its notes and summary."),
		mcp.WithString("consultation_id", mcp.Required(), mcp.Description("Consultation id")),
	), t.getConsultation)

	s.AddTool(mcp.NewTool("list_consultations",
		mcp.WithDescription("List all consultations, newest first."),
	), t.listConsultations)

	s.AddTool(mcp.NewTool("start_segment",
		mcp.WithDescription("Start recording an audio segment for a consultation."),
		mcp.WithString("consultation_id", mcp.Required(), mcp.Description("Consultation id")),
	), t.startSegment)

	s.AddTool(mcp.NewTool("end_segment",
		mcp.WithDescription("Stop the recording segment, then quality-check and transcribe it."),
		mcp.WithString("segment_id", mcp.Required(), mcp.Description("Segment id")),
	), t.endSegment)

	s.AddTool(mcp.NewTool("list_segments",
		mcp.WithDescription("List the recorded segments of a consultation, oldest first."),
		mcp.WithString("consultation_id", mcp.Required(), mcp.Description("Consultation id")),
	), t.listSegments)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *tools) startConsultation(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.consultations.Start(ctx))
}

func (t *tools) addNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("consultation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.consultations.AddNote(ctx, id, content))
}

func (t *tools) endConsultation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("consultation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.consultations.End(ctx, id))
}

func (t *tools) getConsultation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("consultation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.consultations.Get(ctx, id))
}

func (t *tools) listConsultations(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	consultations, err := t.consultations.List(ctx)
	if consultations == nil {
		consultations = []domain.Consultation{}
	}
	return result(consultations, err)
}

func (t *tools) startSegment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("consultation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	consultation, err := t.consultations.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if consultation.Status != domain.ConsultationInProgress {
		return mcp.NewToolResultError("Cannot record segments for a completed consultation"), nil
	}
	return result(t.segments.StartSegment(ctx, id))
}

func (t *tools) endSegment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("segment_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.segments.EndSegment(ctx, id))
}

func (t *tools) listSegments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("consultation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	segments, err := t.segments.GetSegments(ctx, id)
	if segments == nil {
		segments = []domain.TranscriptionSegment{}
	}
	return result(segments, err)
}

// result renders value as indented JSON text. Domain failures become tool errors so the
// assistant sees the message; only encoding problems are protocol errors.
func result(value any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if kind := domain.KindOf(err); kind != "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, err.Error())), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
