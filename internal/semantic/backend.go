// Package semantic ranks documents by vector similarity to a query. Vectors
// come from an embedding model when one is reachable and from a
// term-frequency vectorizer otherwise; callers see the same contract either
// way.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/engine"
	"github.com/kalambet/devsearch/internal/textvec"
)

// Vector is an encoded document or query.
type Vector interface {
	// Similarity returns the cosine similarity with other clamped to [0,1].
	// Vectors from different backends score 0.
	Similarity(other Vector) float64
}

// Backend encodes text into vectors.
type Backend interface {
	Name() string
	// Fallback reports whether this is the term-frequency fallback.
	Fallback() bool
	// Encode returns vectors index-aligned with texts.
	Encode(ctx context.Context, texts []string) ([]Vector, error)
}

type sparseVector struct {
	terms textvec.Vector
	norm  float64
}

func (v sparseVector) Similarity(other Vector) float64 {
	o, ok := other.(sparseVector)
	if !ok {
		return 0
	}
	return textvec.CosineWithNorms(v.terms, v.norm, o.terms, o.norm)
}

type termBackend struct{}

// TermBackend returns the deterministic term-frequency backend.
func TermBackend() Backend { return termBackend{} }

func (termBackend) Name() string   { return "term-frequency" }
func (termBackend) Fallback() bool { return true }

func (termBackend) Encode(_ context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		tf := textvec.TermFrequency(t)
		out[i] = sparseVector{terms: tf, norm: tf.Norm()}
	}
	return out, nil
}

type denseVector struct {
	values []float32
	norm   float64
}

func newDenseVector(v []float32) denseVector {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return denseVector{values: v, norm: math.Sqrt(sum)}
}

func (v denseVector) Similarity(other Vector) float64 {
	o, ok := other.(denseVector)
	if !ok || len(v.values) != len(o.values) || v.norm == 0 || o.norm == 0 {
		return 0
	}
	var dot float64
	for i := range v.values {
		dot += float64(v.values[i]) * float64(o.values[i])
	}
	sim := dot / (v.norm * o.norm)
	return math.Max(0, math.Min(1, sim))
}

const (
	defaultBatchSize = 32
	// maxInflight bounds concurrent embedding requests.
	maxInflight = 4
	encodeTries = 3
)

type modelBackend struct {
	engine    engine.Engine
	model     string
	batchSize int
}

// ModelBackend returns a backend that embeds text with model on e. Texts
// are sent in batches of batchSize, at most four batches in flight.
func ModelBackend(e engine.Engine, model string, batchSize int) Backend {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &modelBackend{engine: e, model: model, batchSize: batchSize}
}

// rebatcher is implemented by backends whose request size can change per
// build.
type rebatcher interface {
	withBatchSize(n int) Backend
}

func (b *modelBackend) withBatchSize(n int) Backend {
	return &modelBackend{engine: b.engine, model: b.model, batchSize: n}
}

func (b *modelBackend) Name() string   { return b.engine.Name() + ":" + b.model }
func (b *modelBackend) Fallback() bool { return false }

func (b *modelBackend) Encode(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]Vector, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxInflight)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			var vecs [][]float32
			err := apperr.Retry(gCtx, encodeTries, func(ctx context.Context) error {
				var err error
				vecs, err = b.engine.EmbedMany(ctx, b.model, texts[start:end])
				return transient(err)
			})
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			for i, v := range vecs {
				out[start+i] = newDenseVector(v)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// transient classifies engine failures as retryable unless they already
// carry a code.
func transient(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.VectorSearch("embedding batch", err)
}
