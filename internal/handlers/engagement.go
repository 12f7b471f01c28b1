package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"motochefe-engagement/internal/middleware"
	"motochefe-engagement/internal/models"
	"motochefe-engagement/internal/services"
)

// maxBodyBytes bounds a request body; a full batch of events fits well inside.
const maxBodyBytes = 1 << 20

type EngagementBackend interface {
	Record(ctx context.Context, userID uuid.UUID, in models.EventInput) (*models.EngagementEvent, error)
	EnqueueBatch(ctx context.Context, userID uuid.UUID, events []models.EventInput) (int, error)
	CourseReport(ctx context.Context, userID uuid.UUID, courseID string) (*models.CourseReport, error)
	LessonReport(ctx context.Context, userID uuid.UUID, lessonID string) (*models.LessonReport, error)
}

type EngagementHandler struct {
	svc EngagementBackend
}

func NewEngagementHandler(svc EngagementBackend) *EngagementHandler {
	return &EngagementHandler{svc: svc}
}

func (h *EngagementHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.EventInput
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.svc.Record(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

func (h *EngagementHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	accepted, err := h.svc.EnqueueBatch(r.Context(), userID, req.Events)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"accepted": accepted})
}

func (h *EngagementHandler) CourseReport(w http.ResponseWriter, r *http.Request) {
	target, ok := h.reportTarget(w, r)
	if !ok {
		return
	}

	report, err := h.svc.CourseReport(r.Context(), target, chi.URLParam(r, "courseId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *EngagementHandler) LessonReport(w http.ResponseWriter, r *http.Request) {
	target, ok := h.reportTarget(w, r)
	if !ok {
		return
	}

	report, err := h.svc.LessonReport(r.Context(), target, chi.URLParam(r, "lessonId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// reportTarget resolves {userId} and checks the caller may read it: learners
// see their own reports, admins see everyone's.
func (h *EngagementHandler) reportTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	target, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user ID", r))
		return uuid.Nil, false
	}

	caller := middleware.GetUserID(r.Context())
	if caller != target && middleware.GetRole(r.Context()) != middleware.RoleAdmin {
		handleServiceError(w, r, &services.ForbiddenError{Message: "You cannot view another user's engagement"})
		return uuid.Nil, false
	}

	return target, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "Request body is too large", r))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}
