package api

import (
	"net/http"

	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/log"
)

// Ingestion validation constants.
const (
	MaxIngestDocuments = 100
	MaxTitleLength     = 500
	MaxSourceTypeLen   = 100
)

// IngestHandler handles document ingestion and reindex endpoints.
type IngestHandler struct {
	pipeline *ingest.Pipeline
	logger   log.Logger
}

// NewIngestHandler creates a new ingestion handler.
func NewIngestHandler(pipeline *ingest.Pipeline, logger log.Logger) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers ingestion routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("POST /api/reindex", h.reindex)
}

// IngestDocument is one document in an ingestion request.
type IngestDocument struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	SourceType string         `json:"sourceType"`
	SourceURI  string         `json:"sourceUri,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
}

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	OrgID     string           `json:"orgId,omitempty"`
	Documents []IngestDocument `json:"documents"`
}

// IngestResponse reports one outcome per submitted document.
type IngestResponse struct {
	Outcomes []ingest.Outcome `json:"outcomes"`
}

// ingest chunks, embeds, and stores the submitted documents. Individual
// document failures are reported in the outcome list, not as an HTTP error.
func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "documents must not be empty")
		return
	}
	if len(req.Documents) > MaxIngestDocuments {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many documents in one request")
		return
	}

	inputs := make([]ingest.DocumentInput, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if len(doc.Title) > MaxTitleLength {
			writeError(w, http.StatusBadRequest, "invalid_request", "title too long")
			return
		}
		if len(doc.SourceType) > MaxSourceTypeLen {
			writeError(w, http.StatusBadRequest, "invalid_request", "sourceType too long")
			return
		}
		if doc.SourceType == "" {
			doc.SourceType = "api"
		}
		inputs = append(inputs, ingest.DocumentInput{
			OrgID:      req.OrgID,
			Title:      doc.Title,
			SourceType: doc.SourceType,
			SourceURI:  doc.SourceURI,
			Content:    doc.Content,
			Metadata:   doc.Metadata,
			CreatedBy:  doc.CreatedBy,
		})
	}

	outcomes, err := h.pipeline.Ingest(r.Context(), inputs)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest documents")
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{Outcomes: outcomes})
}

// ReindexRequest is the request body for POST /api/reindex.
type ReindexRequest struct {
	OrgID       *string  `json:"orgId,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	TriggeredBy string   `json:"triggeredBy,omitempty"`
}

// reindex re-embeds the chunks of the selected documents in place.
func (h *IngestHandler) reindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	summary, err := h.pipeline.Reindex(r.Context(), ingest.ReindexOptions{
		OrgID:       req.OrgID,
		DocumentIDs: req.DocumentIDs,
		Reason:      req.Reason,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		h.logger.Error("reindex failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "failed to reindex documents")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
