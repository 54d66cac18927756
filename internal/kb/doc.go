// Package kb defines the knowledge-base data model and the Store capability
// interface shared by every storage backend.
//
// Two Store implementations ship with the engine:
//
//   - MemoryStore: an in-memory reference implementation backed by maps and
//     an exact cosine scan. Used by tests and as the executable contract.
//   - PostgresStore: the production implementation on pgx + pgvector, with
//     checksum dedup enforced by a unique index.
//
// The package also carries the lexical scoring used by the keyword-search
// fallback so that both backends rank identically.
//
// Design notes:
//   - Interfaces are defined here, by the consumer side of the storage
//     boundary, in the io.Reader / sql.Driver tradition.
//   - Embeddings are []float32 end to end, matching pgvector's wire type.
//   - Org scoping is a plain string on Document ("" = global); filters use
//     *string so "any org" and "only global" stay distinguishable.
package kb
