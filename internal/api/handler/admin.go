package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/internal/admin"
	mw "github.com/cheekymohnkey/styledna/internal/api/middleware"
	"github.com/cheekymohnkey/styledna/internal/api/response"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

// AdminService defines what the admin handlers need from the admin layer.
type AdminService interface {
	Approve(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)
	Reject(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)
	Flag(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)
	Remove(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)
	Rerun(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)
	Moderation(ctx context.Context, jobID uuid.UUID) (*admin.ModerationView, error)
	GetPolicy(ctx context.Context) (*admin.PolicyView, error)
	SetPolicy(ctx context.Context, mode models.ApprovalMode, actor, reason string) (*admin.PolicyView, *admin.CacheInvalidation, error)
}

type adminActionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// jobAction is a job-scoped admin operation like approve or flag.
type jobAction func(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.AnalysisJob, error)

// NewJobActionHandler returns an http.HandlerFunc for the POST
// /api/v1/admin/jobs/{jobID}/<action> family of endpoints.
func NewJobActionHandler(action jobAction, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		actor := requireActor(w, r)
		if actor == "" {
			return
		}

		var req adminActionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
			if err := v.Struct(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"Validation failed", formatValidationErrors(err))
				return
			}
		}

		job, err := action(r.Context(), id, actor, req.Reason)
		if err != nil {
			writeAdminError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewModerationHandler returns an http.HandlerFunc for
// GET /api/v1/admin/jobs/{jobID}/moderation.
func NewModerationHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		view, err := svc.Moderation(r.Context(), id)
		if err != nil {
			writeAdminError(w, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewGetPolicyHandler returns an http.HandlerFunc for GET /api/v1/admin/policy.
func NewGetPolicyHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.GetPolicy(r.Context())
		if err != nil {
			writeAdminError(w, err)
			return
		}
		response.JSON(w, view)
	}
}

type setPolicyRequest struct {
	Mode   string `json:"mode"   validate:"required,oneof=auto-approve manual"`
	Reason string `json:"reason" validate:"max=1000"`
}

type setPolicyResponse struct {
	Policy  *models.ApprovalPolicy   `json:"policy"`
	Actions []*models.AdminAction    `json:"actions"`
	Cache   *admin.CacheInvalidation `json:"cache"`
}

// NewSetPolicyHandler returns an http.HandlerFunc for POST /api/v1/admin/policy.
func NewSetPolicyHandler(svc AdminService, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := requireActor(w, r)
		if actor == "" {
			return
		}

		var req setPolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := v.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Validation failed", formatValidationErrors(err))
			return
		}

		view, inv, err := svc.SetPolicy(r.Context(), models.ApprovalMode(req.Mode), actor, req.Reason)
		if err != nil {
			writeAdminError(w, err)
			return
		}
		response.JSON(w, setPolicyResponse{Policy: view.Policy, Actions: view.Actions, Cache: inv})
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) string {
	actor, ok := mw.GetActorName(r)
	if !ok || actor == "" {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing actor identity", nil)
		return ""
	}
	return actor
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, admin.ErrConflict):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, queue.ErrTransport):
		response.Error(w, http.StatusBadGateway, "QUEUE_TRANSPORT_ERROR",
			"The analysis queue is not reachable", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
