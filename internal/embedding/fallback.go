package embedding

import (
	"context"
	"log/slog"
	"sync"
)

// Fallback wraps a server-backed embedder and degrades to the lite embedder
// when the primary fails, so operations that need a vector never fail on an
// unreachable daemon. The lite embedder is created with the same
// dimensionality so stored vectors remain comparable.
type Fallback struct {
	primary Embedder
	lite    *Lite
	logger  *slog.Logger
	warn    sync.Once
}

var _ Embedder = (*Fallback)(nil)

// NewFallback combines primary with a lite embedder of matching dimensions.
func NewFallback(primary Embedder, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary: primary,
		lite:    NewLite(primary.Dimensions()),
		logger:  logger,
	}
}

func (f *Fallback) Dimensions() int { return f.primary.Dimensions() }

func (f *Fallback) Model() string { return f.primary.Model() }

func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err != nil {
		f.warnOnce(err)
		return f.lite.Embed(ctx, text)
	}
	return vec, nil
}

func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err != nil {
		f.warnOnce(err)
		return f.lite.EmbedBatch(ctx, texts)
	}
	return vecs, nil
}

func (f *Fallback) warnOnce(err error) {
	f.warn.Do(func() {
		f.logger.Warn("embedding server unavailable, using lite embedder",
			slog.String("model", f.primary.Model()),
			slog.String("error", err.Error()))
	})
}
