package embed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ibimina/kbengine/internal/kb"
)

// LimitedProvider throttles batch calls to an underlying provider with a
// token bucket, keeping the pipeline inside provider rate limits without
// baking retry policy into the pipeline itself.
type LimitedProvider struct {
	inner   kb.Embedder
	limiter *rate.Limiter
}

// NewLimitedProvider wraps inner at batchesPerSecond with the given burst.
// A non-positive rate disables throttling and returns inner unchanged.
func NewLimitedProvider(inner kb.Embedder, batchesPerSecond float64, burst int) kb.Embedder {
	if batchesPerSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(batchesPerSecond), burst),
	}
}

// Embed implements kb.Embedder, blocking until the limiter admits the batch
// or the context is canceled.
func (p *LimitedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embed rate limit: %w", err)
	}
	return p.inner.Embed(ctx, texts)
}
