package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/internal/api/response"
	"github.com/cheekymohnkey/styledna/internal/jobs"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// JobService defines what the job handlers need from the jobs layer.
type JobService interface {
	Submit(ctx context.Context, params jobs.SubmitParams) (*jobs.SubmitResult, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetResult(ctx context.Context, id uuid.UUID) (*jobs.ResultView, error)
}

type submitRequest struct {
	IdempotencyKey string         `json:"idempotency_key" validate:"required,min=1,max=255"`
	RunType        string         `json:"run_type"        validate:"required,oneof=trait recommendation alignment"`
	ImageID        string         `json:"image_id"        validate:"required,min=1,max=255"`
	Context        map[string]any `json:"context"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// A reused idempotency key returns the existing job with 200 instead of 201.
func NewSubmitHandler(svc JobService, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := v.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Validation failed", formatValidationErrors(err))
			return
		}

		result, err := svc.Submit(r.Context(), jobs.SubmitParams{
			IdempotencyKey: req.IdempotencyKey,
			RunType:        models.RunType(req.RunType),
			ImageID:        req.ImageID,
			Context:        req.Context,
		})
		if err != nil {
			if errors.Is(err, queue.ErrTransport) {
				response.Error(w, http.StatusBadGateway, "QUEUE_TRANSPORT_ERROR",
					"The analysis queue is not reachable", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to submit job", nil)
			return
		}

		if result.Reused {
			response.JSON(w, result)
			return
		}
		response.Accepted(w, result)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewGetResultHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/result. Moderated jobs return a null result.
func NewGetResultHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		view, err := svc.GetResult(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch result", nil)
			return
		}
		response.JSON(w, view)
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func formatValidationErrors(err error) any {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, e := range verrs {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
