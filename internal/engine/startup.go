package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the backend is unreachable.
var ErrNotRunning = errors.New("embedding engine is not running")

// ErrModelMissing is returned by EnsureReady when the model is absent and
// pulling is disabled.
var ErrModelMissing = errors.New("embedding model is not available")

// EnsureReady checks that e is reachable and model is available. When pull
// is true a missing model is downloaded with progress written to w.
func EnsureReady(ctx context.Context, e Engine, model string, pull bool, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s: %w", e.Name(), ErrNotRunning)
	}
	if e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}
	if !pull {
		return fmt.Errorf("model %s: %w", model, ErrModelMissing)
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := e.PullModel(ctx, model, func(p PullProgress) {
		if pct := p.Percent(); pct >= 0 {
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
