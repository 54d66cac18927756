// Package resolver turns free-text queries into ranked knowledge-base
// matches. The happy path embeds the query and runs a vector scan; when the
// embedding provider fails the resolver degrades to the keyword scan over
// the same store. The source label on every result tells callers which
// confidence tier produced it.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibimina/kbengine/internal/kb"
)

// Source identifies which retrieval path produced a result set.
type Source string

const (
	// SourceVector marks a semantic match from the embedding scan.
	SourceVector Source = "vector"

	// SourceKeyword marks a degraded lexical match.
	SourceKeyword Source = "keyword"

	// SourceEmpty marks a resolved query with no matches on any path.
	SourceEmpty Source = "empty"
)

// Result is a resolved query: the matches and the path that produced them.
type Result struct {
	Source  Source           `json:"source"`
	Matches []kb.MatchResult `json:"matches"`
}

// Options tunes the resolver. Zero values select the store defaults.
type Options struct {
	// MatchCount caps vector-path results.
	MatchCount int

	// MatchThreshold is the vector similarity floor (0 = store default).
	MatchThreshold float64

	// FallbackLimit caps keyword-path results.
	FallbackLimit int

	// FallbackOnEmpty additionally runs the keyword scan when the vector
	// path succeeds but returns nothing.
	FallbackOnEmpty bool
}

// Resolver resolves natural-language queries against a knowledge store.
//
// Provider failures are handled per query: there is deliberately no shared
// "provider is down" state that would couple unrelated searches.
type Resolver struct {
	store    kb.Store
	embedder kb.Embedder
	opts     Options
	logger   *slog.Logger
}

// New creates a Resolver.
func New(store kb.Store, embedder kb.Embedder, logger *slog.Logger, opts Options) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, embedder: embedder, opts: opts, logger: logger}, nil
}

// Search resolves query within the given org scope (nil = unscoped).
//
// A "no knowledge found" condition is a normal result with SourceEmpty, not
// an error; Search only errors when the store itself fails.
func (r *Resolver) Search(ctx context.Context, query string, orgID *string) (Result, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 || len(vectors[0]) == 0 {
		if err != nil {
			r.logger.Warn("query embedding failed, falling back to keyword search",
				"error", err)
		}
		return r.keyword(ctx, query, orgID)
	}

	matches, err := r.store.MatchEmbedding(ctx, vectors[0], kb.MatchOptions{
		OrgID:          orgID,
		MatchCount:     r.opts.MatchCount,
		MatchThreshold: r.opts.MatchThreshold,
	})
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}

	if len(matches) > 0 {
		return Result{Source: SourceVector, Matches: matches}, nil
	}
	if r.opts.FallbackOnEmpty {
		return r.keyword(ctx, query, orgID)
	}
	return Result{Source: SourceEmpty, Matches: []kb.MatchResult{}}, nil
}

func (r *Resolver) keyword(ctx context.Context, query string, orgID *string) (Result, error) {
	matches, err := r.store.KeywordSearch(ctx, query, kb.KeywordOptions{
		OrgID:      orgID,
		MatchCount: r.opts.FallbackLimit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("keyword search: %w", err)
	}
	if len(matches) == 0 {
		return Result{Source: SourceEmpty, Matches: []kb.MatchResult{}}, nil
	}
	return Result{Source: SourceKeyword, Matches: matches}, nil
}
