package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// documentCols is the standard SELECT column list for scanDocument.
const documentCols = `id, org_id, title, source_type, source_uri, checksum,
	metadata, token_count, created_by, created_at, updated_at`

// jobCols is the standard SELECT column list for scanJob.
const jobCols = `id, document_id, source_type, source_uri, status, metrics,
	error, started_at, finished_at`

// PostgresStore is the production Store backed by PostgreSQL + pgvector.
//
// The checksum dedup invariant is enforced by the unique index on
// (org_id, checksum): concurrent upserts racing on the same checksum resolve
// through ON CONFLICT DO UPDATE, so the last writer wins and no duplicate
// document survives. Chunk replacement runs in one transaction, so readers
// never observe a mix of old and new chunks.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on an existing connection pool.
// The pool's lifecycle is managed by the caller.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

var _ Store = (*PostgresStore)(nil)

// UpsertDocument implements Store.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc DocumentUpsert) (Document, error) {
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return Document{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO kb_documents (id, org_id, title, source_type, source_uri, checksum, metadata, token_count, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (org_id, checksum) DO UPDATE SET
		     title = EXCLUDED.title,
		     metadata = EXCLUDED.metadata,
		     token_count = EXCLUDED.token_count,
		     updated_at = now()
		 RETURNING `+documentCols,
		uuid.NewString(), doc.OrgID, doc.Title, doc.SourceType, doc.SourceURI,
		doc.Checksum, metadata, doc.TokenCount, doc.CreatedBy,
	)

	record, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("upserting document: %w", err)
	}
	return record, nil
}

// ReplaceDocumentChunks implements Store. Delete and insert run in one
// transaction so the swap is atomic for readers.
func (s *PostgresStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk replacement: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM kb_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting existing chunks: %w", err)
	}

	if len(chunks) > 0 {
		batch := &pgx.Batch{}
		for _, chunk := range chunks {
			batch.Queue(
				`INSERT INTO kb_chunks (id, document_id, chunk_index, content, embedding, token_count)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), documentID, chunk.Index, chunk.Content,
				pgvector.NewVector(chunk.Embedding), chunk.TokenCount,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}

	s.logger.Debug("replaced document chunks", "document_id", documentID, "chunk_count", len(chunks))
	return nil
}

// GetDocumentChunks implements Store.
func (s *PostgresStore) GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, embedding, token_count, created_at, updated_at
		 FROM kb_chunks
		 WHERE document_id = $1
		 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var embedding pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Content,
			&embedding, &chunk.TokenCount, &chunk.CreatedAt, &chunk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunk.Embedding = embedding.Slice()
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// LogIngestionJob implements Store.
func (s *PostgresStore) LogIngestionJob(ctx context.Context, job JobInsert) (IngestionJob, error) {
	metrics, err := marshalMetadata(job.Metrics)
	if err != nil {
		return IngestionJob{}, err
	}

	var documentID *string
	if job.DocumentID != "" {
		documentID = &job.DocumentID
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO kb_ingestion_jobs (id, document_id, source_type, source_uri, status, metrics)
		 VALUES ($1, $2, $3, $4, 'processing', $5)
		 RETURNING `+jobCols,
		uuid.NewString(), documentID, job.SourceType, job.SourceURI, metrics,
	)

	record, err := scanJob(row)
	if err != nil {
		return IngestionJob{}, fmt.Errorf("logging ingestion job: %w", err)
	}
	return record, nil
}

// UpdateIngestionJob implements Store. An unknown id updates zero rows and
// is not an error.
func (s *PostgresStore) UpdateIngestionJob(ctx context.Context, id string, patch JobPatch) error {
	var metrics []byte
	if patch.Metrics != nil {
		var err error
		if metrics, err = marshalMetadata(patch.Metrics); err != nil {
			return err
		}
	}

	var status *string
	if patch.Status != "" {
		v := string(patch.Status)
		status = &v
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE kb_ingestion_jobs SET
		     document_id = COALESCE($2, document_id),
		     status = COALESCE($3, status),
		     metrics = COALESCE($4, metrics),
		     error = COALESCE($5, error),
		     finished_at = CASE
		         WHEN $3 IN ('completed', 'failed') AND finished_at IS NULL THEN now()
		         ELSE finished_at
		     END
		 WHERE id = $1`,
		id, patch.DocumentID, status, metrics, patch.Error,
	)
	if err != nil {
		return fmt.Errorf("updating ingestion job: %w", err)
	}
	return nil
}

// ListDocuments implements Store.
func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM kb_documents
		 WHERE ($1::text IS NULL OR org_id = $1)
		   AND ($2::text[] IS NULL OR cardinality($2::text[]) = 0 OR id::text = ANY($2::text[]))
		 ORDER BY updated_at DESC`,
		filter.OrgID, filter.IDs,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// ListJobs implements Store.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]IngestionJob, error) {
	var since *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+`
		 FROM kb_ingestion_jobs
		 WHERE ($1::timestamptz IS NULL OR started_at >= $1)
		 ORDER BY started_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ingestion jobs: %w", err)
	}
	defer rows.Close()

	var jobs []IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ingestion job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ingestion jobs: %w", err)
	}
	return jobs, nil
}

// LogReindexEvent implements Store.
func (s *PostgresStore) LogReindexEvent(ctx context.Context, event ReindexEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kb_reindex_events (id, triggered_by, reason, target_org, job_count, chunk_count)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), event.TriggeredBy, event.Reason, event.TargetOrg,
		event.JobCount, event.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("logging reindex event: %w", err)
	}
	return nil
}

// MatchEmbedding implements Store. pgvector's <=> operator is cosine
// distance, so similarity = 1 - distance. Chunks whose stored vector has a
// different dimension than the query are skipped rather than erroring.
func (s *PostgresStore) MatchEmbedding(ctx context.Context, embedding []float32, opts MatchOptions) ([]MatchResult, error) {
	if len(embedding) == 0 {
		return []MatchResult{}, nil
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT c.document_id, c.id, c.content,
		        1 - (c.embedding <=> $1) AS similarity,
		        d.title, d.source_type, d.source_uri, d.metadata
		 FROM kb_chunks c
		 JOIN kb_documents d ON d.id = c.document_id
		 WHERE ($2::text IS NULL OR d.org_id = $2)
		   AND c.embedding IS NOT NULL
		   AND vector_dims(c.embedding) = $3
		   AND 1 - (c.embedding <=> $1) >= $4
		 ORDER BY c.embedding <=> $1
		 LIMIT $5`,
		vec, opts.OrgID, len(embedding), opts.Threshold(), opts.Count(),
	)
	if err != nil {
		return nil, fmt.Errorf("matching embedding: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// KeywordSearch implements Store. Candidate chunks are narrowed in SQL with
// ILIKE, then ranked in Go by the shared lexical scoring so both backends
// order results identically.
func (s *PostgresStore) KeywordSearch(ctx context.Context, query string, opts KeywordOptions) ([]MatchResult, error) {
	tokens := KeywordTokens(query)

	patterns := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		patterns = append(patterns, "%"+escapeLike(token)+"%")
	}
	if len(patterns) == 0 {
		if query == "" {
			return []MatchResult{}, nil
		}
		patterns = append(patterns, "%"+escapeLike(query)+"%")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.document_id, c.id, c.content,
		        0::float8 AS similarity,
		        d.title, d.source_type, d.source_uri, d.metadata
		 FROM kb_chunks c
		 JOIN kb_documents d ON d.id = c.document_id
		 WHERE ($1::text IS NULL OR d.org_id = $1)
		   AND c.content ILIKE ANY($2::text[])`,
		opts.OrgID, patterns,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	matches, err := scanMatches(rows)
	if err != nil {
		return nil, err
	}

	scored := matches[:0]
	for _, match := range matches {
		similarity, ok := keywordScore(match.Content, query, tokens)
		if !ok {
			continue
		}
		match.Similarity = similarity
		scored = append(scored, match)
	}

	sortMatches(scored)
	if len(scored) > opts.Count() {
		scored = scored[:opts.Count()]
	}
	return scored, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var metadata []byte
	if err := row.Scan(&doc.ID, &doc.OrgID, &doc.Title, &doc.SourceType, &doc.SourceURI,
		&doc.Checksum, &metadata, &doc.TokenCount, &doc.CreatedBy,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Metadata = unmarshalMetadata(metadata)
	return doc, nil
}

func scanJob(row rowScanner) (IngestionJob, error) {
	var job IngestionJob
	var documentID *string
	var metrics []byte
	var finishedAt *time.Time
	if err := row.Scan(&job.ID, &documentID, &job.SourceType, &job.SourceURI,
		&job.Status, &metrics, &job.Error, &job.StartedAt, &finishedAt); err != nil {
		return IngestionJob{}, err
	}
	if documentID != nil {
		job.DocumentID = *documentID
	}
	if finishedAt != nil {
		job.FinishedAt = *finishedAt
	}
	job.Metrics = unmarshalMetadata(metrics)
	return job, nil
}

func scanMatches(rows pgx.Rows) ([]MatchResult, error) {
	matches := []MatchResult{}
	for rows.Next() {
		var match MatchResult
		var metadata []byte
		if err := rows.Scan(&match.DocumentID, &match.ChunkID, &match.Content,
			&match.Similarity, &match.Title, &match.SourceType, &match.SourceURI,
			&metadata); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		match.Metadata = unmarshalMetadata(metadata)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) map[string]any {
	m := map[string]any{}
	if len(data) > 0 {
		// Malformed rows degrade to empty metadata rather than failing reads.
		_ = json.Unmarshal(data, &m)
	}
	return m
}

// escapeLike escapes LIKE wildcards in a user-supplied token.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
