package api

import (
	"net/http"
	"strings"

	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/resolver"
)

// MaxQueryLength bounds the search query size.
const MaxQueryLength = 2000

// SearchHandler handles the query resolution endpoint.
type SearchHandler struct {
	resolver *resolver.Resolver
	logger   log.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(res *resolver.Resolver, logger log.Logger) *SearchHandler {
	return &SearchHandler{resolver: res, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

// SearchRequest is the request body for POST /api/search.
type SearchRequest struct {
	Query string  `json:"query"`
	OrgID *string `json:"orgId,omitempty"`
}

// search resolves a query against the knowledge base. The response carries
// the matches and the retrieval source ("vector", "keyword", or "empty").
func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query must not be empty")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long")
		return
	}

	result, err := h.resolver.Search(r.Context(), req.Query, req.OrgID)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to resolve query")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
