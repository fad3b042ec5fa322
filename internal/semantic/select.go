package semantic

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kalambet/devsearch/internal/engine"
)

// Probe configures the one-time capability check that picks a backend.
type Probe struct {
	// Engine is the embedding backend to try. Nil selects the fallback.
	Engine engine.Engine
	Model  string
	// Dimension, when positive, must match the probe embedding length.
	Dimension int
	// AutoPull downloads a missing model before giving up on it.
	AutoPull  bool
	BatchSize int
	// Timeout bounds the whole probe; model pulls count against it.
	Timeout time.Duration
	// Progress receives model readiness and pull output. Nil discards it.
	Progress io.Writer
	Logger   *slog.Logger
}

const defaultProbeTimeout = 30 * time.Second

// Select runs the capability probe once and returns the backend to use for
// the lifetime of the process. Any probe failure selects the
// term-frequency fallback with a warning; Select never fails.
func Select(ctx context.Context, p Probe) Backend {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Engine == nil {
		logger.Info("semantic index using term-frequency vectors", "reason", "no embedding engine configured")
		return TermBackend()
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe(ctx, p); err != nil {
		logger.Warn("embedding model unavailable, falling back to term-frequency vectors",
			"engine", p.Engine.Name(), "model", p.Model, "error", err)
		return TermBackend()
	}

	b := ModelBackend(p.Engine, p.Model, p.BatchSize)
	logger.Info("semantic index using embedding model", "backend", b.Name())
	return b
}

func probe(ctx context.Context, p Probe) error {
	w := p.Progress
	if w == nil {
		w = io.Discard
	}
	if err := engine.EnsureReady(ctx, p.Engine, p.Model, p.AutoPull, w); err != nil {
		return err
	}
	vec, err := p.Engine.Embed(ctx, p.Model, "capability probe")
	if err != nil {
		return fmt.Errorf("probe embedding: %w", err)
	}
	if p.Dimension > 0 && len(vec) != p.Dimension {
		return fmt.Errorf("model returned %d dimensions, want %d", len(vec), p.Dimension)
	}
	return nil
}
