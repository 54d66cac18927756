package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
)

// Listing validation constants.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// DocumentHandler handles document and ingestion job listing endpoints.
type DocumentHandler struct {
	store  kb.Store
	logger log.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(store kb.Store, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, logger: logger}
}

// RegisterRoutes registers document and job routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/documents", h.listDocuments)
	mux.HandleFunc("GET /api/jobs", h.listJobs)
	mux.HandleFunc("GET /api/jobs/metrics", h.jobMetrics)
}

// listDocuments returns stored documents, newest first.
// Query parameters:
//   - orgId: restrict to one org scope; "orgId=" (empty) means global documents only
func (h *DocumentHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	var filter kb.DocumentFilter
	if r.URL.Query().Has("orgId") {
		orgID := r.URL.Query().Get("orgId")
		filter.OrgID = &orgID
	}

	docs, err := h.store.ListDocuments(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// listJobs returns ingestion jobs, newest first.
// Query parameters:
//   - since: RFC 3339 lower bound on job start time
//   - limit: maximum number of jobs to return (default: 100, max: 1000)
func (h *DocumentHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := kb.JobFilter{
		Limit: parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit),
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be RFC 3339")
			return
		}
		filter.Since = since
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// jobMetrics returns an aggregate health snapshot of recent ingestion jobs.
// Query parameters:
//   - limit: how many recent jobs to aggregate over (default: 200)
func (h *DocumentHandler) jobMetrics(w http.ResponseWriter, r *http.Request) {
	opts := ingest.MonitorOptions{
		Limit: parseIntParam(r, "limit", ingest.DefaultMetricsWindow, 1, MaxListLimit),
	}

	metrics, err := ingest.Snapshot(r.Context(), h.store, opts)
	if err != nil {
		h.logger.Error("failed to aggregate job metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "metrics_failed", "failed to aggregate job metrics")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
