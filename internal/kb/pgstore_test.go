package kb_test

import (
	"context"
	"testing"

	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/testutil"
)

// newPGStore spins up a pgvector container and returns a store bound to it.
// Skipped when Docker is unavailable.
func newPGStore(t *testing.T) *kb.PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := kb.NewPostgresStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return store
}

func TestPostgresStoreUpsertDedup(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	first, err := store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID:    "org-a",
		Title:    "Handbook",
		Checksum: "abc",
		Metadata: map[string]any{"version": "1"},
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	second, err := store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID:    "org-a",
		Title:    "Handbook v2",
		Checksum: "abc",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected dedup to reuse id, got %q and %q", first.ID, second.ID)
	}
	if second.Title != "Handbook v2" {
		t.Errorf("expected updated title, got %q", second.Title)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("expected CreatedAt preserved on conflict update")
	}

	other, err := store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID:    "org-b",
		Title:    "Handbook",
		Checksum: "abc",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if other.ID == first.ID {
		t.Error("expected distinct document per org scope")
	}
}

func TestPostgresStoreChunksRoundTrip(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	doc, err := store.UpsertDocument(ctx, kb.DocumentUpsert{Checksum: "c1", Title: "Doc"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	chunks := []kb.Chunk{
		{Index: 0, Content: "first chunk", Embedding: []float32{1, 0, 0}, TokenCount: 3},
		{Index: 1, Content: "second chunk", Embedding: []float32{0, 1, 0}, TokenCount: 3},
	}
	if err := store.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	got, err := store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocumentChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	for i, chunk := range got {
		if chunk.Index != i {
			t.Errorf("chunk %d: index %d", i, chunk.Index)
		}
		if len(chunk.Embedding) != 3 {
			t.Errorf("chunk %d: embedding dims %d", i, len(chunk.Embedding))
		}
	}

	// Replacement swaps the whole set.
	if err := store.ReplaceDocumentChunks(ctx, doc.ID, chunks[:1]); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	got, err = store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocumentChunks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 chunk after replacement, got %d", len(got))
	}
}

func TestPostgresStoreMatchEmbedding(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	doc, err := store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID: "org-a", Checksum: "c1", Title: "Vectors",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := store.ReplaceDocumentChunks(ctx, doc.ID, []kb.Chunk{
		{Index: 0, Content: "exact", Embedding: []float32{1, 0, 0}},
		{Index: 1, Content: "orthogonal", Embedding: []float32{0, 1, 0}},
		{Index: 2, Content: "close", Embedding: []float32{0.9, 0.1, 0}},
	}); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	org := "org-a"
	matches, err := store.MatchEmbedding(ctx, []float32{1, 0, 0}, kb.MatchOptions{OrgID: &org})
	if err != nil {
		t.Fatalf("MatchEmbedding: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches above default threshold, got %d", len(matches))
	}
	if matches[0].Content != "exact" {
		t.Errorf("expected best match first, got %q", matches[0].Content)
	}
	if matches[0].Similarity < 0.99 {
		t.Errorf("expected similarity ~1, got %g", matches[0].Similarity)
	}

	// Mismatched dimensions are skipped, not an error.
	matches, err = store.MatchEmbedding(ctx, []float32{1, 0}, kb.MatchOptions{OrgID: &org})
	if err != nil {
		t.Fatalf("MatchEmbedding: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches for mismatched dims, got %d", len(matches))
	}

	// Empty query embedding short-circuits.
	matches, err = store.MatchEmbedding(ctx, nil, kb.MatchOptions{})
	if err != nil {
		t.Fatalf("MatchEmbedding: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches for empty embedding, got %d", len(matches))
	}
}

func TestPostgresStoreKeywordSearch(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	doc, err := store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID: "org-a", Checksum: "c1", Title: "Guide",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := store.ReplaceDocumentChunks(ctx, doc.ID, []kb.Chunk{
		{Index: 0, Content: "How to deploy the payment service", Embedding: []float32{1, 0}},
		{Index: 1, Content: "Rotating database credentials", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	org := "org-a"
	matches, err := store.KeywordSearch(ctx, "deploy payment", kb.KeywordOptions{OrgID: &org})
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Similarity != 0.95 {
		t.Errorf("expected full-coverage score 0.95, got %g", matches[0].Similarity)
	}

	// LIKE wildcards in the query must not widen the search.
	matches, err = store.KeywordSearch(ctx, "%%%", kb.KeywordOptions{OrgID: &org})
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches for literal wildcards, got %d", len(matches))
	}
}

func TestPostgresStoreListDocuments(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	docA, err := store.UpsertDocument(ctx, kb.DocumentUpsert{OrgID: "org-a", Checksum: "a"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := store.UpsertDocument(ctx, kb.DocumentUpsert{OrgID: "org-b", Checksum: "b"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := store.UpsertDocument(ctx, kb.DocumentUpsert{Checksum: "c"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	orgA, global := "org-a", ""
	tests := []struct {
		name   string
		filter kb.DocumentFilter
		want   int
	}{
		{"all scopes", kb.DocumentFilter{}, 3},
		{"single org", kb.DocumentFilter{OrgID: &orgA}, 1},
		{"global only", kb.DocumentFilter{OrgID: &global}, 1},
		{"by id", kb.DocumentFilter{IDs: []string{docA.ID}}, 1},
		{"unknown id", kb.DocumentFilter{IDs: []string{"not-a-real-id"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.ListDocuments(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListDocuments: %v", err)
			}
			if len(docs) != tt.want {
				t.Errorf("expected %d documents, got %d", tt.want, len(docs))
			}
		})
	}
}

func TestPostgresStoreJobLifecycle(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	job, err := store.LogIngestionJob(ctx, kb.JobInsert{
		SourceType: "upload",
		Metrics:    map[string]any{"org_id": "org-a"},
	})
	if err != nil {
		t.Fatalf("LogIngestionJob: %v", err)
	}
	if job.Status != kb.StatusProcessing {
		t.Errorf("expected processing, got %q", job.Status)
	}

	doc, err := store.UpsertDocument(ctx, kb.DocumentUpsert{Checksum: "c1"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
		DocumentID: &doc.ID,
		Status:     kb.StatusCompleted,
		Metrics:    map[string]any{"chunk_count": 2},
	}); err != nil {
		t.Fatalf("UpdateIngestionJob: %v", err)
	}

	jobs, err := store.ListJobs(ctx, kb.JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.Status != kb.StatusCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.DocumentID != doc.ID {
		t.Errorf("expected document linked, got %q", got.DocumentID)
	}
	if got.FinishedAt.IsZero() {
		t.Error("expected finished_at stamped")
	}
	if got.Metrics["chunk_count"] == nil {
		t.Error("expected metrics patched")
	}

	// Unknown id updates zero rows without error.
	if err := store.UpdateIngestionJob(ctx, doc.ID, kb.JobPatch{Status: kb.StatusFailed}); err != nil {
		t.Errorf("expected no error for unknown job id, got %v", err)
	}
}

func TestPostgresStoreReindexEvents(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	if err := store.LogReindexEvent(ctx, kb.ReindexEvent{
		TriggeredBy: "cli",
		Reason:      "model_upgrade",
		TargetOrg:   "org-a",
		JobCount:    3,
		ChunkCount:  12,
	}); err != nil {
		t.Fatalf("LogReindexEvent: %v", err)
	}
}
