// Package embed provides kb.Embedder implementations: an OpenAI-backed
// batch provider, a bridge from Genkit ai.Embedder, and a rate-limiting
// wrapper that throttles batch calls against provider quotas.
//
// Every provider honors the batch contract: exactly one vector per input
// text, or an error — partial results are never returned.
package embed
