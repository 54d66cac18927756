package kb

import (
	"context"
	"time"
)

// JobStatus is the lifecycle state of an ingestion job.
// A job is created in StatusProcessing and transitions exactly once to
// StatusCompleted or StatusFailed.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one ingested source unit. An empty OrgID means the document is
// global (not scoped to any organization).
//
// Within one org scope a checksum identifies at most one document:
// re-ingesting identical content updates the existing record in place.
type Document struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"orgId,omitempty"`
	Title      string         `json:"title"`
	SourceType string         `json:"sourceType"`
	SourceURI  string         `json:"sourceUri,omitempty"`
	Checksum   string         `json:"checksum"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TokenCount int            `json:"tokenCount"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// DocumentUpsert is the input to Store.UpsertDocument.
type DocumentUpsert struct {
	OrgID      string
	Title      string
	SourceType string
	SourceURI  string
	Checksum   string
	Metadata   map[string]any
	TokenCount int
	CreatedBy  string
}

// Chunk is one embeddable slice of a document's content. Chunks are replaced
// as a whole set per document; Index is the 0-based position within the
// document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	TokenCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IngestionJob is one audit record of an attempt to (re)process a document.
// FinishedAt stays zero until the job reaches a terminal status.
type IngestionJob struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId,omitempty"`
	SourceType string         `json:"sourceType"`
	SourceURI  string         `json:"sourceUri,omitempty"`
	Status     JobStatus      `json:"status"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt,omitzero"`
}

// JobInsert is the input to Store.LogIngestionJob. The job always starts in
// StatusProcessing.
type JobInsert struct {
	DocumentID string
	SourceType string
	SourceURI  string
	Metrics    map[string]any
}

// JobPatch advances an ingestion job. Zero-valued fields are left unchanged:
// nil DocumentID/Error pointers and nil Metrics mean "do not touch", an empty
// Status means "keep the current status".
type JobPatch struct {
	DocumentID *string
	Status     JobStatus
	Metrics    map[string]any
	Error      *string
}

// ReindexEvent is one append-only audit entry for a bulk reindex run.
type ReindexEvent struct {
	TriggeredBy string    `json:"triggeredBy,omitempty"`
	Reason      string    `json:"reason"`
	TargetOrg   string    `json:"targetOrg,omitempty"`
	JobCount    int       `json:"jobCount"`
	ChunkCount  int       `json:"chunkCount"`
	LoggedAt    time.Time `json:"loggedAt"`
}

// DocumentFilter narrows Store.ListDocuments. A nil OrgID matches every
// document; a pointer to the empty string matches only global documents.
type DocumentFilter struct {
	OrgID *string
	IDs   []string
}

// JobFilter narrows Store.ListJobs. A zero Since means no lower bound, a
// non-positive Limit means no cap.
type JobFilter struct {
	Since time.Time
	Limit int
}

// Search defaults shared by every Store implementation.
const (
	DefaultMatchCount     = 5
	DefaultMatchThreshold = 0.68
)

// MatchOptions configures Store.MatchEmbedding. A zero MatchThreshold falls
// back to DefaultMatchThreshold; pass a negative value to disable the floor.
type MatchOptions struct {
	OrgID          *string
	MatchCount     int
	MatchThreshold float64
}

// Threshold returns the effective similarity floor.
func (o MatchOptions) Threshold() float64 {
	if o.MatchThreshold == 0 {
		return DefaultMatchThreshold
	}
	return o.MatchThreshold
}

// Count returns the effective result cap.
func (o MatchOptions) Count() int {
	if o.MatchCount <= 0 {
		return DefaultMatchCount
	}
	return o.MatchCount
}

// KeywordOptions configures Store.KeywordSearch.
type KeywordOptions struct {
	OrgID      *string
	MatchCount int
}

// Count returns the effective result cap.
func (o KeywordOptions) Count() int {
	if o.MatchCount <= 0 {
		return DefaultMatchCount
	}
	return o.MatchCount
}

// MatchResult is one retrieved chunk joined with its owning document.
type MatchResult struct {
	DocumentID string         `json:"documentId"`
	ChunkID    string         `json:"chunkId"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Title      string         `json:"title"`
	SourceType string         `json:"sourceType"`
	SourceURI  string         `json:"sourceUri,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Store is the capability interface over the durable knowledge base: document
// and chunk CRUD, job logging, reindex audit, and the two retrieval
// primitives. A production implementation (Postgres + pgvector) and an
// in-memory reference implementation are interchangeable behind it.
//
// Search operations return an empty slice, never an error, for a plain
// "no matches" condition.
type Store interface {
	// UpsertDocument finds a document with the same (OrgID, Checksum) and
	// updates its mutable fields, or creates a new one. Concurrent upserts
	// racing on the same checksum must not produce duplicate documents.
	UpsertDocument(ctx context.Context, doc DocumentUpsert) (Document, error)

	// ReplaceDocumentChunks atomically swaps the full chunk set owned by
	// documentID. Chunk Index values are stored as given; callers assign
	// positions.
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []Chunk) error

	// GetDocumentChunks returns the chunks of a document ordered by Index.
	GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error)

	// LogIngestionJob opens a new job in StatusProcessing.
	LogIngestionJob(ctx context.Context, job JobInsert) (IngestionJob, error)

	// UpdateIngestionJob applies a patch to an existing job. Unknown job ids
	// are ignored. The first terminal transition stamps FinishedAt.
	UpdateIngestionJob(ctx context.Context, id string, patch JobPatch) error

	// ListDocuments returns documents matching the filter, most recently
	// updated first.
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)

	// ListJobs returns jobs matching the filter, most recently started first.
	ListJobs(ctx context.Context, filter JobFilter) ([]IngestionJob, error)

	// LogReindexEvent appends one reindex audit entry.
	LogReindexEvent(ctx context.Context, event ReindexEvent) error

	// MatchEmbedding runs an exact cosine-similarity scan over the chunks of
	// the org-scoped document set.
	MatchEmbedding(ctx context.Context, embedding []float32, opts MatchOptions) ([]MatchResult, error)

	// KeywordSearch scores chunks by lexical token coverage; the degraded
	// path when no query embedding is available.
	KeywordSearch(ctx context.Context, query string, opts KeywordOptions) ([]MatchResult, error)
}

// Embedder converts a batch of texts into equal-length vectors, exactly one
// per input. Implementations must return an error rather than silently drop
// entries on partial failure.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
