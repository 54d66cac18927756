// Package agent provides the conversational facade over the knowledge-base
// resolver: it extracts the latest user query from a conversation, resolves
// it, and formats the matches into a deterministic summary suitable for
// direct display or as grounding for a downstream generation step. Composing
// a final natural-language answer with an LLM is explicitly out of scope.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/resolver"
)

// Message roles understood by the facade.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// snippetLimit bounds how much chunk content the summary echoes per match.
const snippetLimit = 160

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a conversation plus the org scope to search within.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	OrgID    *string   `json:"orgId,omitempty"`
}

// ChatResponse carries the formatted summary together with the raw matches
// and the retrieval source, so callers can distinguish a high-confidence
// semantic match from a degraded lexical one.
type ChatResponse struct {
	Message string           `json:"message"`
	Matches []kb.MatchResult `json:"matches"`
	Source  resolver.Source  `json:"source"`
}

// Facade orchestrates query extraction, resolution, and formatting.
type Facade struct {
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// New creates a Facade.
func New(res *resolver.Resolver, logger *slog.Logger) (*Facade, error) {
	if res == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{resolver: res, logger: logger}, nil
}

// Chat resolves the most recent user message against the knowledge base.
// A conversation without a user message yields a prompt for one rather than
// an error.
func (f *Facade) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	query := latestUserQuery(req.Messages)
	if query == "" {
		return ChatResponse{
			Message: "How can I support you today?",
			Matches: []kb.MatchResult{},
			Source:  resolver.SourceEmpty,
		}, nil
	}

	result, err := f.resolver.Search(ctx, query, req.OrgID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("resolving query: %w", err)
	}

	f.logger.Debug("chat query resolved",
		"source", result.Source, "match_count", len(result.Matches))

	return ChatResponse{
		Message: formatMatches(result),
		Matches: result.Matches,
		Source:  result.Source,
	}, nil
}

// latestUserQuery returns the content of the most recent user-role message.
func latestUserQuery(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// formatMatches renders a deterministic, human-readable summary of the
// resolved matches.
func formatMatches(result resolver.Result) string {
	if len(result.Matches) == 0 {
		return "No knowledge base matches found for this query."
	}

	var b strings.Builder
	b.WriteString("Top knowledge base matches:\n")
	for i, match := range result.Matches {
		fmt.Fprintf(&b, "%d. %s (similarity %.2f): %s\n",
			i+1, match.Title, match.Similarity, snippet(match.Content))
	}
	if result.Source == resolver.SourceKeyword {
		b.WriteString("Results come from keyword search; semantic ranking was unavailable.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// snippet truncates content on a rune boundary with an ellipsis.
func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLimit {
		return content
	}
	return strings.TrimSpace(string(runes[:snippetLimit])) + "…"
}
