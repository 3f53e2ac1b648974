package handler

import (
	"context"
	"net/http"

	"github.com/cheekymohnkey/styledna/internal/api/response"
	"github.com/cheekymohnkey/styledna/internal/monitor"
)

// Reporter defines what the ops handler needs from the monitor.
type Reporter interface {
	Report(ctx context.Context) *monitor.Report
}

// NewOpsStatusHandler returns an http.HandlerFunc for GET /api/v1/admin/ops.
// The report is computed on demand; a degraded pipeline still answers 200
// with failing checks so operators can read what broke.
func NewOpsStatusHandler(mon Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, mon.Report(r.Context()))
	}
}
