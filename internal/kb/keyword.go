package kb

import (
	"math"
	"strings"
	"unicode/utf8"
)

// minTokenLen filters out stop-word sized tokens ("a", "of", "to") that would
// inflate coverage without adding signal.
const minTokenLen = 3

// KeywordTokens splits a query on whitespace and keeps lowercase tokens of
// at least minTokenLen runes.
func KeywordTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordScore rates a chunk against a query by the fraction of tokens found
// as case-insensitive substrings. When no tokens survive filtering it falls
// back to a single whole-query substring check. The second return is false
// when nothing matched at all.
//
// The similarity is min(0.99, 0.35 + coverage*0.6), which keeps lexical
// matches below a perfect vector match but above the default vector
// threshold when coverage is high.
func keywordScore(content, query string, tokens []string) (float64, bool) {
	lower := strings.ToLower(content)
	normalized := strings.ToLower(query)

	hits := 0
	if len(tokens) > 0 {
		for _, token := range tokens {
			if strings.Contains(lower, token) {
				hits++
			}
		}
	} else if normalized != "" && strings.Contains(lower, normalized) {
		hits = 1
	}

	if hits == 0 {
		return 0, false
	}

	var coverage float64
	if len(tokens) > 0 {
		coverage = float64(hits) / float64(len(tokens))
	} else {
		coverage = float64(len(normalized)) / math.Max(float64(len(lower)), 1)
	}

	return math.Min(0.99, 0.35+coverage*0.6), true
}

// cosineSimilarity returns the normalized dot product of two vectors in
// [-1, 1]. Mismatched or empty vectors score zero instead of erroring so a
// malformed embedding degrades to "no match".
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		magA += va * va
		magB += vb * vb
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
