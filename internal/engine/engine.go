// Package engine abstracts the local embedding backend so the semantic index
// does not depend on a concrete client.
package engine

import "context"

// Engine is a local embedding backend.
type Engine interface {
	// Name identifies the backend in logs and health reports.
	Name() string

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedMany embeds texts in one round trip, index-aligned with texts.
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
