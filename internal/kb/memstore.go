package kb

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory reference Store. It keeps every record in
// maps behind a single RWMutex, which also resolves the concurrent-upsert
// dedup race: writes are serialized, so two upserts for the same
// (org, checksum) can never both observe "not found".
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	chunks    map[string]Chunk
	jobs      map[string]IngestionJob
	events    []ReindexEvent

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		chunks:    make(map[string]Chunk),
		jobs:      make(map[string]IngestionJob),
		now:       time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// UpsertDocument implements Store.
func (s *MemoryStore) UpsertDocument(_ context.Context, doc DocumentUpsert) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record := Document{
		OrgID:      doc.OrgID,
		Title:      doc.Title,
		SourceType: doc.SourceType,
		SourceURI:  doc.SourceURI,
		Checksum:   doc.Checksum,
		Metadata:   cloneMetadata(doc.Metadata),
		TokenCount: doc.TokenCount,
		CreatedBy:  doc.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, existing := range s.documents {
		if existing.OrgID == doc.OrgID && existing.Checksum == doc.Checksum {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
			break
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	s.documents[record.ID] = record
	return record, nil
}

// ReplaceDocumentChunks implements Store. The delete and reinsert happen
// under one lock acquisition, so readers never observe a mixed chunk set.
func (s *MemoryStore) ReplaceDocumentChunks(_ context.Context, documentID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}

	now := s.now()
	for _, chunk := range chunks {
		stored := chunk
		stored.DocumentID = documentID
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.Embedding = slices.Clone(chunk.Embedding)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.chunks[stored.ID] = stored
	}
	return nil
}

// GetDocumentChunks implements Store.
func (s *MemoryStore) GetDocumentChunks(_ context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			chunk.Embedding = slices.Clone(chunk.Embedding)
			out = append(out, chunk)
		}
	}
	slices.SortFunc(out, func(a, b Chunk) int { return a.Index - b.Index })
	return out, nil
}

// LogIngestionJob implements Store.
func (s *MemoryStore) LogIngestionJob(_ context.Context, job JobInsert) (IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := IngestionJob{
		ID:         uuid.NewString(),
		DocumentID: job.DocumentID,
		SourceType: job.SourceType,
		SourceURI:  job.SourceURI,
		Status:     StatusProcessing,
		Metrics:    cloneMetadata(job.Metrics),
		StartedAt:  s.now(),
	}
	s.jobs[record.ID] = record
	return record, nil
}

// UpdateIngestionJob implements Store. Unknown ids are a silent no-op: jobs
// are append-then-update and a missing id is a caller/store desync that must
// not crash the pipeline.
func (s *MemoryStore) UpdateIngestionJob(_ context.Context, id string, patch JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[id]
	if !ok {
		return nil
	}

	if patch.DocumentID != nil {
		record.DocumentID = *patch.DocumentID
	}
	if patch.Status != "" {
		record.Status = patch.Status
		if patch.Status.Terminal() && record.FinishedAt.IsZero() {
			record.FinishedAt = s.now()
		}
	}
	if patch.Metrics != nil {
		record.Metrics = cloneMetadata(patch.Metrics)
	}
	if patch.Error != nil {
		record.Error = *patch.Error
	}

	s.jobs[id] = record
	return nil
}

// ListDocuments implements Store.
func (s *MemoryStore) ListDocuments(_ context.Context, filter DocumentFilter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, doc := range s.documents {
		if filter.OrgID != nil && doc.OrgID != *filter.OrgID {
			continue
		}
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, doc.ID) {
			continue
		}
		doc.Metadata = cloneMetadata(doc.Metadata)
		out = append(out, doc)
	}

	slices.SortStableFunc(out, func(a, b Document) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

// ListJobs implements Store.
func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []IngestionJob
	for _, job := range s.jobs {
		if !filter.Since.IsZero() && job.StartedAt.Before(filter.Since) {
			continue
		}
		job.Metrics = cloneMetadata(job.Metrics)
		out = append(out, job)
	}

	slices.SortStableFunc(out, func(a, b IngestionJob) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// LogReindexEvent implements Store.
func (s *MemoryStore) LogReindexEvent(_ context.Context, event ReindexEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.LoggedAt.IsZero() {
		event.LoggedAt = s.now()
	}
	s.events = append(s.events, event)
	return nil
}

// ReindexEvents returns a copy of the audit trail, oldest first. Not part of
// the Store contract; used by tests and the jobs CLI.
func (s *MemoryStore) ReindexEvents() []ReindexEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// MatchEmbedding implements Store with an exact cosine scan over the scoped
// chunk set. Exact scan is the designed scale here; there is deliberately no
// approximate index.
func (s *MemoryStore) MatchEmbedding(ctx context.Context, embedding []float32, opts MatchOptions) ([]MatchResult, error) {
	docs, err := s.ListDocuments(ctx, DocumentFilter{OrgID: opts.OrgID})
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]Document, len(docs))
	for _, doc := range docs {
		allowed[doc.ID] = doc
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	threshold := opts.Threshold()
	matches := []MatchResult{}
	for _, chunk := range s.chunks {
		doc, ok := allowed[chunk.DocumentID]
		if !ok {
			continue
		}
		similarity := cosineSimilarity(embedding, chunk.Embedding)
		if similarity < threshold {
			continue
		}
		matches = append(matches, MatchResult{
			DocumentID: doc.ID,
			ChunkID:    chunk.ID,
			Content:    chunk.Content,
			Similarity: similarity,
			Title:      doc.Title,
			SourceType: doc.SourceType,
			SourceURI:  doc.SourceURI,
			Metadata:   cloneMetadata(doc.Metadata),
		})
	}

	sortMatches(matches)
	if len(matches) > opts.Count() {
		matches = matches[:opts.Count()]
	}
	return matches, nil
}

// KeywordSearch implements Store using the shared lexical scoring.
func (s *MemoryStore) KeywordSearch(ctx context.Context, query string, opts KeywordOptions) ([]MatchResult, error) {
	docs, err := s.ListDocuments(ctx, DocumentFilter{OrgID: opts.OrgID})
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]Document, len(docs))
	for _, doc := range docs {
		allowed[doc.ID] = doc
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := KeywordTokens(query)
	matches := []MatchResult{}
	for _, chunk := range s.chunks {
		doc, ok := allowed[chunk.DocumentID]
		if !ok {
			continue
		}
		similarity, ok := keywordScore(chunk.Content, query, tokens)
		if !ok {
			continue
		}
		matches = append(matches, MatchResult{
			DocumentID: doc.ID,
			ChunkID:    chunk.ID,
			Content:    chunk.Content,
			Similarity: similarity,
			Title:      doc.Title,
			SourceType: doc.SourceType,
			SourceURI:  doc.SourceURI,
			Metadata:   cloneMetadata(doc.Metadata),
		})
	}

	sortMatches(matches)
	if len(matches) > opts.Count() {
		matches = matches[:opts.Count()]
	}
	return matches, nil
}

// sortMatches orders by similarity descending with chunk id as a stable
// tie-break so results are deterministic across runs.
func sortMatches(matches []MatchResult) {
	slices.SortFunc(matches, func(a, b MatchResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return cmpString(a.ChunkID, b.ChunkID)
		}
	})
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
