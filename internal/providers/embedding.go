package providers

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// DefaultEmbeddingDims matches the vector(1536) column the store migrates.
const DefaultEmbeddingDims = 1536

// EmbeddingProvider turns texts into vectors. One call may embed a batch;
// the result preserves input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// MockEmbeddingProvider produces deterministic unit vectors derived from the
// text content, so equal texts always land on the same point and tests can
// pin exact similarities with SetEmbeddingForText.
type MockEmbeddingProvider struct {
	Dims int

	mu       sync.Mutex
	pinned   map[string][]float32
	calls    int
	embedded int
}

func NewMockEmbeddingProvider() *MockEmbeddingProvider {
	return &MockEmbeddingProvider{Dims: DefaultEmbeddingDims}
}

func (p *MockEmbeddingProvider) Model() string { return "mock-embedding-v1" }

func (p *MockEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("embed: empty batch")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.embedded += len(texts)

	dims := p.Dims
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if pinned, ok := p.pinned[text]; ok {
			out[i] = append([]float32(nil), pinned...)
			continue
		}
		out[i] = deterministicVector(text, dims)
	}
	return out, nil
}

// SetEmbeddingForText overrides the vector returned for one exact text.
func (p *MockEmbeddingProvider) SetEmbeddingForText(text string, vector []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinned == nil {
		p.pinned = make(map[string][]float32)
	}
	p.pinned[text] = append([]float32(nil), vector...)
}

// Calls reports how many Embed invocations happened.
func (p *MockEmbeddingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func deterministicVector(text string, dims int) []float32 {
	sum := md5.Sum([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
