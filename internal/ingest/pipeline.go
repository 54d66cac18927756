package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ibimina/kbengine/internal/kb"
)

// DefaultBatchSize is how many chunk texts go to the embedder per call.
// It is a provider rate/payload tunable, not a correctness parameter.
const DefaultBatchSize = 16

// DocumentInput is one raw document handed to Ingest. Content is the only
// field that drives chunk production; empty content is valid and yields a
// document with zero chunks.
type DocumentInput struct {
	OrgID      string
	Title      string
	SourceType string
	SourceURI  string
	Content    string
	Metadata   map[string]any
	CreatedBy  string
}

// Outcome reports the result of ingesting one document. Callers receive one
// Outcome per input regardless of individual failures, so partial success is
// always visible.
type Outcome struct {
	DocumentID string       `json:"documentId,omitempty"`
	JobID      string       `json:"jobId"`
	ChunkCount int          `json:"chunkCount"`
	TokenCount int          `json:"tokenCount"`
	Checksum   string       `json:"checksum"`
	Status     kb.JobStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}

// ReindexOptions selects which documents Reindex re-embeds.
type ReindexOptions struct {
	OrgID       *string
	DocumentIDs []string
	Reason      string
	TriggeredBy string
}

// ReindexSummary is the aggregate result of one Reindex run.
type ReindexSummary struct {
	DocumentCount int `json:"documentCount"`
	TotalChunks   int `json:"totalChunks"`
}

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// Pipeline turns raw documents into checksum-deduplicated document records
// with embedded chunks, and re-embeds existing chunks on demand.
//
// Documents within one Ingest or Reindex call are processed sequentially;
// embedding calls are the only IO suspension points and run one batch at a
// time. One document's failure never aborts the rest of the call.
type Pipeline struct {
	store     kb.Store
	embedder  kb.Embedder
	chunker   *Chunker
	batchSize int
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(store kb.Store, embedder kb.Embedder, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Pipeline{
		store:     store,
		embedder:  embedder,
		chunker:   NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Checksum returns the hex-encoded SHA-256 of the raw content string. The
// same bytes always hash to the same checksum, which is the basis for the
// per-org dedup invariant.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Ingest processes each input document independently: it opens an ingestion
// job, chunks and embeds the content, upserts the document, replaces its
// chunk set, and closes the job. The returned error is non-nil only when job
// bookkeeping itself fails; per-document embedding or storage failures are
// reported in the outcome for that document.
func (p *Pipeline) Ingest(ctx context.Context, documents []DocumentInput) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(documents))

	for _, document := range documents {
		job, err := p.store.LogIngestionJob(ctx, kb.JobInsert{
			SourceType: document.SourceType,
			SourceURI:  document.SourceURI,
			Metrics:    map[string]any{"org_id": document.OrgID},
		})
		if err != nil {
			return outcomes, fmt.Errorf("opening ingestion job: %w", err)
		}

		outcome, err := p.ingestOne(ctx, document, job)
		if err != nil {
			message := err.Error()
			if updateErr := p.store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
				Status: kb.StatusFailed,
				Error:  &message,
			}); updateErr != nil {
				p.logger.Warn("failed to mark ingestion job failed",
					"job_id", job.ID, "error", updateErr)
			}

			p.logger.Warn("document ingestion failed",
				"job_id", job.ID, "title", document.Title, "error", err)

			outcomes = append(outcomes, Outcome{
				JobID:    job.ID,
				Checksum: Checksum(document.Content),
				Status:   kb.StatusFailed,
				Error:    message,
			})
			continue
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// ingestOne runs steps 2-7 for a single document under an open job.
func (p *Pipeline) ingestOne(ctx context.Context, document DocumentInput, job kb.IngestionJob) (Outcome, error) {
	sections := p.chunker.Split(document.Content)
	checksum := Checksum(document.Content)

	tokenCount := 0
	for _, section := range sections {
		tokenCount += section.TokenCount
	}

	record, err := p.store.UpsertDocument(ctx, kb.DocumentUpsert{
		OrgID:      document.OrgID,
		Title:      document.Title,
		SourceType: document.SourceType,
		SourceURI:  document.SourceURI,
		Checksum:   checksum,
		Metadata:   document.Metadata,
		TokenCount: tokenCount,
		CreatedBy:  document.CreatedBy,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("upserting document: %w", err)
	}

	var vectors [][]float32
	if len(sections) > 0 {
		contents := make([]string, len(sections))
		for i, section := range sections {
			contents[i] = section.Content
		}

		vectors, err = p.embedAll(ctx, contents)
		if err != nil {
			return Outcome{}, err
		}
		if len(vectors) != len(sections) {
			return Outcome{}, fmt.Errorf("embedding provider returned %d vectors for %d chunks",
				len(vectors), len(sections))
		}
	}

	chunks := make([]kb.Chunk, len(sections))
	for i, section := range sections {
		chunks[i] = kb.Chunk{
			DocumentID: record.ID,
			Index:      i,
			Content:    section.Content,
			Embedding:  vectors[i],
			TokenCount: section.TokenCount,
		}
	}

	if err := p.store.ReplaceDocumentChunks(ctx, record.ID, chunks); err != nil {
		return Outcome{}, fmt.Errorf("replacing document chunks: %w", err)
	}

	metrics := mergeMetrics(job.Metrics, map[string]any{
		"chunk_count": len(sections),
		"token_count": tokenCount,
		"checksum":    checksum,
	})
	if err := p.store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
		DocumentID: &record.ID,
		Status:     kb.StatusCompleted,
		Metrics:    metrics,
	}); err != nil {
		return Outcome{}, fmt.Errorf("completing ingestion job: %w", err)
	}

	p.logger.Debug("document ingested",
		"document_id", record.ID, "job_id", job.ID,
		"chunk_count", len(sections), "token_count", tokenCount)

	return Outcome{
		DocumentID: record.ID,
		JobID:      job.ID,
		ChunkCount: len(sections),
		TokenCount: tokenCount,
		Checksum:   checksum,
		Status:     kb.StatusCompleted,
	}, nil
}

// Reindex re-embeds the stored chunks of the selected documents without
// re-chunking: chunk boundaries, content, and indexes are preserved, only
// the vectors change. One ReindexEvent summarizes the whole run.
func (p *Pipeline) Reindex(ctx context.Context, opts ReindexOptions) (ReindexSummary, error) {
	documents, err := p.store.ListDocuments(ctx, kb.DocumentFilter{
		OrgID: opts.OrgID,
		IDs:   opts.DocumentIDs,
	})
	if err != nil {
		return ReindexSummary{}, fmt.Errorf("listing reindex candidates: %w", err)
	}

	totalChunks := 0
	for _, document := range documents {
		job, err := p.store.LogIngestionJob(ctx, kb.JobInsert{
			DocumentID: document.ID,
			SourceType: "reindex:" + document.SourceType,
			SourceURI:  document.SourceURI,
			Metrics:    map[string]any{"previous_checksum": document.Checksum},
		})
		if err != nil {
			return ReindexSummary{}, fmt.Errorf("opening reindex job: %w", err)
		}

		reindexed, err := p.reindexOne(ctx, document.ID, job)
		if err != nil {
			message := err.Error()
			if updateErr := p.store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
				Status: kb.StatusFailed,
				Error:  &message,
			}); updateErr != nil {
				p.logger.Warn("failed to mark reindex job failed",
					"job_id", job.ID, "error", updateErr)
			}
			p.logger.Warn("document reindex failed",
				"job_id", job.ID, "document_id", document.ID, "error", err)
			continue
		}
		totalChunks += reindexed
	}

	reason := opts.Reason
	if reason == "" {
		reason = "manual_reindex"
	}
	targetOrg := ""
	if opts.OrgID != nil {
		targetOrg = *opts.OrgID
	}
	if err := p.store.LogReindexEvent(ctx, kb.ReindexEvent{
		TriggeredBy: opts.TriggeredBy,
		Reason:      reason,
		TargetOrg:   targetOrg,
		JobCount:    len(documents),
		ChunkCount:  totalChunks,
	}); err != nil {
		return ReindexSummary{}, fmt.Errorf("logging reindex event: %w", err)
	}

	return ReindexSummary{DocumentCount: len(documents), TotalChunks: totalChunks}, nil
}

// reindexOne re-embeds one document's chunks and returns how many it
// replaced.
func (p *Pipeline) reindexOne(ctx context.Context, documentID string, job kb.IngestionJob) (int, error) {
	chunks, err := p.store.GetDocumentChunks(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("loading chunks: %w", err)
	}

	if len(chunks) == 0 {
		metrics := mergeMetrics(job.Metrics, map[string]any{"chunk_count": 0, "token_count": 0})
		if err := p.store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
			Status:  kb.StatusCompleted,
			Metrics: metrics,
		}); err != nil {
			return 0, fmt.Errorf("completing empty reindex job: %w", err)
		}
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, chunk := range chunks {
		contents[i] = chunk.Content
	}

	vectors, err := p.embedAll(ctx, contents)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding provider returned %d vectors for %d chunks during reindex",
			len(vectors), len(chunks))
	}

	tokenCount := 0
	replacements := make([]kb.Chunk, len(chunks))
	for i, chunk := range chunks {
		tokens := chunk.TokenCount
		if tokens == 0 {
			tokens = EstimateTokens(chunk.Content)
		}
		tokenCount += tokens
		replacements[i] = kb.Chunk{
			DocumentID: chunk.DocumentID,
			Index:      chunk.Index,
			Content:    chunk.Content,
			Embedding:  vectors[i],
			TokenCount: tokens,
		}
	}

	if err := p.store.ReplaceDocumentChunks(ctx, documentID, replacements); err != nil {
		return 0, fmt.Errorf("replacing chunks: %w", err)
	}

	metrics := mergeMetrics(job.Metrics, map[string]any{
		"chunk_count": len(replacements),
		"token_count": tokenCount,
	})
	if err := p.store.UpdateIngestionJob(ctx, job.ID, kb.JobPatch{
		Status:  kb.StatusCompleted,
		Metrics: metrics,
	}); err != nil {
		return 0, fmt.Errorf("completing reindex job: %w", err)
	}

	return len(replacements), nil
}

// embedAll embeds contents in fixed-size batches, one batch in flight at a
// time, and concatenates the results in order.
func (p *Pipeline) embedAll(ctx context.Context, contents []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(contents))

	for start := 0; start < len(contents); start += p.batchSize {
		end := min(len(contents), start+p.batchSize)
		batch, err := p.embedder.Embed(ctx, contents[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch at offset %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func mergeMetrics(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
