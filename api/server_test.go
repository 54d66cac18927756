package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ibimina/kbengine/internal/agent"
	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/resolver"
	"github.com/ibimina/kbengine/internal/testutil"
)

// newTestServer wires a full server on the in-memory store with the
// deterministic test embedder. The threshold is disabled so identical
// query and content always resolve on the vector path.
func newTestServer(t *testing.T) (*Server, *kb.MemoryStore) {
	t.Helper()

	store := kb.NewMemoryStore()
	embedder := &testutil.Embedder{}
	logger := log.NewNop()

	pipeline, err := ingest.New(store, embedder, logger, ingest.Options{})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	res, err := resolver.New(store, embedder, logger, resolver.Options{MatchThreshold: -1})
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	facade, err := agent.New(res, logger)
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	return NewServer(store, pipeline, res, facade, nil, logger), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}

	// No pool configured means the memory backend, which is always ready.
	rec = doJSON(t, handler, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", rec.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()

	body := `{"orgId":"org-a","documents":[{"title":"Runbook","content":"restart the payment service","sourceType":"wiki"}]}`
	rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/ingest = %d: %s", rec.Code, rec.Body.String())
	}

	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(resp.Outcomes))
	}
	if resp.Outcomes[0].Status != kb.StatusCompleted {
		t.Errorf("expected completed outcome, got %q (%s)",
			resp.Outcomes[0].Status, resp.Outcomes[0].Error)
	}

	docs, err := store.ListDocuments(t.Context(), kb.DocumentFilter{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 stored document, got %d", len(docs))
	}
	if docs[0].OrgID != "org-a" {
		t.Errorf("expected org scope recorded, got %q", docs[0].OrgID)
	}
}

func TestIngestEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no documents", `{"documents":[]}`},
		{"unknown field", `{"documents":[{"title":"x"}],"bogus":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/ingest", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	body := `{"documents":[{"title":"FAQ","content":"refunds take five days","sourceType":"faq"}]}`
	if rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusOK {
		t.Fatalf("seeding ingest failed: %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/search", `{"query":"refunds take five days"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/search = %d: %s", rec.Code, rec.Body.String())
	}

	var result resolver.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Source != resolver.SourceVector {
		t.Errorf("expected vector source, got %q", result.Source)
	}
	if len(result.Matches) == 0 {
		t.Error("expected at least one match")
	}
}

func TestSearchEndpointRejectsEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`} {
		rec := doJSON(t, handler, http.MethodPost, "/api/search", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	body := `{"documents":[{"title":"Onboarding","content":"new hires get laptops on day one","sourceType":"wiki"}]}`
	if rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusOK {
		t.Fatalf("seeding ingest failed: %d", rec.Code)
	}

	chat := `{"messages":[{"role":"user","content":"new hires get laptops on day one"}]}`
	rec := doJSON(t, handler, http.MethodPost, "/api/chat", chat)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/chat = %d: %s", rec.Code, rec.Body.String())
	}

	var resp agent.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Message == "" {
		t.Error("expected a formatted message")
	}
	if len(resp.Matches) == 0 {
		t.Error("expected matches in chat response")
	}
}

func TestDocumentsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	seed := []string{
		`{"orgId":"org-a","documents":[{"title":"A","content":"alpha","sourceType":"wiki"}]}`,
		`{"documents":[{"title":"G","content":"global","sourceType":"wiki"}]}`,
	}
	for _, body := range seed {
		if rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusOK {
			t.Fatalf("seeding ingest failed: %d", rec.Code)
		}
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"all scopes", "/api/documents", 2},
		{"one org", "/api/documents?orgId=org-a", 1},
		{"global only", "/api/documents?orgId=", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("GET %s = %d", tt.path, rec.Code)
			}
			var resp struct {
				Documents []kb.Document `json:"documents"`
				Total     int           `json:"total"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Total != tt.want {
				t.Errorf("expected %d documents, got %d", tt.want, resp.Total)
			}
		})
	}
}

func TestJobsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	body := `{"documents":[{"title":"A","content":"alpha","sourceType":"wiki"}]}`
	if rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusOK {
		t.Fatalf("seeding ingest failed: %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/jobs = %d", rec.Code)
	}
	var jobsResp struct {
		Jobs  []kb.IngestionJob `json:"jobs"`
		Total int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &jobsResp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if jobsResp.Total != 1 {
		t.Fatalf("expected 1 job, got %d", jobsResp.Total)
	}
	if jobsResp.Jobs[0].Status != kb.StatusCompleted {
		t.Errorf("expected completed job, got %q", jobsResp.Jobs[0].Status)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/jobs?since=not-a-time", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed since, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/jobs/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/jobs/metrics = %d", rec.Code)
	}
	var metrics ingest.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if metrics.TotalJobs != 1 {
		t.Errorf("expected 1 job in metrics, got %d", metrics.TotalJobs)
	}
	if metrics.SuccessRate != 1 {
		t.Errorf("expected success rate 1, got %g", metrics.SuccessRate)
	}
}

func TestReindexEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()

	body := `{"orgId":"org-a","documents":[{"title":"A","content":"alpha beta gamma","sourceType":"wiki"}]}`
	if rec := doJSON(t, handler, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusOK {
		t.Fatalf("seeding ingest failed: %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/reindex", `{"orgId":"org-a","reason":"model_upgrade"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/reindex = %d: %s", rec.Code, rec.Body.String())
	}

	var summary ingest.ReindexSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if summary.DocumentCount != 1 {
		t.Errorf("expected 1 document reindexed, got %d", summary.DocumentCount)
	}

	events := store.ReindexEvents()
	if len(events) != 1 || events[0].Reason != "model_upgrade" {
		t.Errorf("expected one audit event with the given reason, got %+v", events)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
