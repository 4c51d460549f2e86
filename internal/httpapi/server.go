// Package httpapi exposes consultations and recording segments over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"consultscribe/internal/domain"
)

// Consultations is the consultation lifecycle the API drives.
type Consultations interface {
	Start(ctx context.Context) (domain.Consultation, error)
	AddNote(ctx context.Context, id string, content string) (domain.Consultation, error)
	End(ctx context.Context, id string) (domain.Consultation, error)
	Get(ctx context.Context, id string) (domain.Consultation, error)
	List(ctx context.Context) ([]domain.Consultation, error)
}

// Segments is the recording lifecycle the API drives.
type Segments interface {
	StartSegment(ctx context.Context, consultationID string) (domain.TranscriptionSegment, error)
	EndSegment(ctx context.Context, segmentID string) (domain.TranscriptionSegment, error)
	GetSegments(ctx context.Context, consultationID string) ([]domain.TranscriptionSegment, error)
	Current() (domain.TranscriptionSegment, bool)
}

var errRecordingClosed = domain.NewError(domain.ErrorKindInvalidState, "Cannot record segments for a completed consultation")

type handler struct {
	consultations Consultations
	segments      Segments
}

// NewRouter builds the gin engine. hub may be nil, in which case /events is not served.
func NewRouter(consultations Consultations, segments Segments, hub *Hub) *gin.Engine {
	h := &handler{consultations: consultations, segments: segments}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/consultations", h.startConsultation)
	r.GET("/consultations", h.listConsultations)
	r.GET("/consultations/:id", h.getConsultation)
	r.POST("/consultations/:id/notes", h.addNote)
	r.POST("/consultations/:id/end", h.endConsultation)
	r.POST("/consultations/:id/segments", h.startSegment)
	r.GET("/consultations/:id/segments", h.listSegments)

	r.GET("/segments/current", h.currentSegment)
	r.POST("/segments/:id/end", h.endSegment)

	if hub != nil {
		r.GET("/events", hub.serve)
	}
	return r
}

func (h *handler) startConsultation(c *gin.Context) {
	consultation, err := h.consultations.Start(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, consultation)
}

func (h *handler) listConsultations(c *gin.Context) {
	consultations, err := h.consultations.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if consultations == nil {
		consultations = []domain.Consultation{}
	}
	c.JSON(http.StatusOK, consultations)
}

func (h *handler) getConsultation(c *gin.Context) {
	consultation, err := h.consultations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, consultation)
}

func (h *handler) addNote(c *gin.Context) {
	var request struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be JSON with a content field"})
		return
	}
	if strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Note content is required"})
		return
	}

	consultation, err := h.consultations.AddNote(c.Request.Context(), c.Param("id"), request.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, consultation)
}

func (h *handler) endConsultation(c *gin.Context) {
	consultation, err := h.consultations.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, consultation)
}

func (h *handler) startSegment(c *gin.Context) {
	consultation, err := h.consultations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if consultation.Status != domain.ConsultationInProgress {
		respondError(c, errRecordingClosed)
		return
	}

	segment, err := h.segments.StartSegment(c.Request.Context(), consultation.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, segment)
}

func (h *handler) listSegments(c *gin.Context) {
	segments, err := h.segments.GetSegments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if segments == nil {
		segments = []domain.TranscriptionSegment{}
	}
	c.JSON(http.StatusOK, segments)
}

func (h *handler) currentSegment(c *gin.Context) {
	segment, ok := h.segments.Current()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, segment)
}

func (h *handler) endSegment(c *gin.Context) {
	segment, err := h.segments.EndSegment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, segment)
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[httpapi] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	body := gin.H{"error": err.Error()}
	if kind := domain.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindInvalidState, domain.ErrorKindConcurrencyConflict:
		return http.StatusConflict
	case domain.ErrorKindQualityRejected:
		return http.StatusUnprocessableEntity
	case domain.ErrorKindProviderFailure:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
