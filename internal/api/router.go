package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/cheekymohnkey/styledna/internal/api/middleware"
	"github.com/cheekymohnkey/styledna/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	SubmitHandler    http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	GetResultHandler http.HandlerFunc

	ApproveHandler    http.HandlerFunc
	RejectHandler     http.HandlerFunc
	FlagHandler       http.HandlerFunc
	RemoveHandler     http.HandlerFunc
	RerunHandler      http.HandlerFunc
	ModerationHandler http.HandlerFunc
	GetPolicyHandler  http.HandlerFunc
	SetPolicyHandler  http.HandlerFunc
	OpsStatusHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.GetResultHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/jobs/{jobID}/approve", orNotImplemented(deps.ApproveHandler))
			r.Post("/api/v1/admin/jobs/{jobID}/reject", orNotImplemented(deps.RejectHandler))
			r.Post("/api/v1/admin/jobs/{jobID}/flag", orNotImplemented(deps.FlagHandler))
			r.Post("/api/v1/admin/jobs/{jobID}/remove", orNotImplemented(deps.RemoveHandler))
			r.Post("/api/v1/admin/jobs/{jobID}/rerun", orNotImplemented(deps.RerunHandler))
			r.Get("/api/v1/admin/jobs/{jobID}/moderation", orNotImplemented(deps.ModerationHandler))

			r.Get("/api/v1/admin/policy", orNotImplemented(deps.GetPolicyHandler))
			r.Post("/api/v1/admin/policy", orNotImplemented(deps.SetPolicyHandler))

			r.Get("/api/v1/admin/ops", orNotImplemented(deps.OpsStatusHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
