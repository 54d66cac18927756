// Package ingest implements the embedding ingestion pipeline: deterministic
// chunking with overlap, checksum-based document dedup, batched embedding
// calls with per-document failure isolation, chunk-set replacement, and the
// reindex path that re-embeds stored chunks without touching their
// boundaries. It also provides an aggregate job-metrics snapshot for
// monitoring recent pipeline activity.
package ingest
