package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"intellixdoc/internal/pkg/vecmath"
)

// HashEmbedder is a local, dependency-free embedder: lower-cased word
// tokens are hashed into a fixed number of signed buckets and the result
// is L2-normalized. It needs no network and is fully deterministic, which
// makes it the default for development and tests.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vec := make([]float32, h.dimension)
	for _, tok := range tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dimension))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return vecmath.Normalize(vec), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed input %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) Dimension() int { return h.dimension }
func (h *HashEmbedder) Model() string  { return fmt.Sprintf("hash-%d", h.dimension) }
func (h *HashEmbedder) Close() error   { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
