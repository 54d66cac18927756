package embed

import (
	"context"
	"testing"
	"time"

	"github.com/ibimina/kbengine/internal/kb"
)

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	return make([][]float32, len(texts)), nil
}

func TestNewLimitedProviderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	if got := NewLimitedProvider(inner, 0, 1); got != kb.Embedder(inner) {
		t.Error("expected zero rate to return the inner provider unchanged")
	}
	if got := NewLimitedProvider(inner, -3, 1); got != kb.Embedder(inner) {
		t.Error("expected negative rate to return the inner provider unchanged")
	}
}

func TestLimitedProviderDelegates(t *testing.T) {
	inner := &countingEmbedder{}
	limited := NewLimitedProvider(inner, 100, 1)

	vectors, err := limited.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(vectors))
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 delegated call, got %d", inner.calls)
	}
}

func TestLimitedProviderThrottles(t *testing.T) {
	inner := &countingEmbedder{}
	// 10 batches/sec, burst 1: the second call must wait ~100ms.
	limited := NewLimitedProvider(inner, 10, 1)

	ctx := context.Background()
	start := time.Now()
	for range 2 {
		if _, err := limited.Embed(ctx, []string{"x"}); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected second batch throttled, elapsed %v", elapsed)
	}
}

func TestLimitedProviderContextCancel(t *testing.T) {
	inner := &countingEmbedder{}
	limited := NewLimitedProvider(inner, 0.001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Drain the initial burst token, then the next call must block and fail.
	if _, err := limited.Embed(ctx, []string{"x"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := limited.Embed(ctx, []string{"y"}); err == nil {
		t.Error("expected context deadline error while throttled")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 successful call, got %d", inner.calls)
	}
}
