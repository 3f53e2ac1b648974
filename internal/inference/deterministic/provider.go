// Package deterministic implements an inference provider that derives a
// stable trait vector from the image id alone, with no model call. It gives
// reproducible results, which makes it the default for development and the
// reference implementation the LLM-backed providers are checked against.
package deterministic

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

const vectorDim = 8

var styleFamilies = []string{
	"minimalist", "maximalist", "vintage", "futurist",
	"organic", "industrial", "pastel", "monochrome",
}

// Provider implements models.InferenceProvider deterministically.
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "deterministic" }

// Analyze hashes the image id into a trait vector in [0, 1). The same image
// always yields the same vector.
func (p *Provider) Analyze(_ context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	if strings.TrimSpace(req.ImageID) == "" {
		return models.InferenceResult{}, models.ErrInvalidInput
	}

	vector := make([]float64, vectorDim)
	for i := range vector {
		h := fnv.New64a()
		h.Write([]byte(req.ImageID))
		h.Write([]byte{byte(i)})
		vector[i] = float64(h.Sum64()%10000) / 10000
	}

	attrs := map[string]any{
		"style_family": styleFamilies[dominantIndex(vector)],
	}

	if req.RunType == models.RunTypeAlignment {
		other, _ := req.Context["compare_image_id"].(string)
		if strings.TrimSpace(other) == "" {
			return models.InferenceResult{}, models.ErrInvalidInput
		}
		otherRes, err := p.Analyze(context.Background(), models.InferenceRequest{
			RunType: models.RunTypeTrait,
			ImageID: other,
		})
		if err != nil {
			return models.InferenceResult{}, err
		}
		attrs["alignment_score"] = cosine(vector, otherRes.TraitVector)
		attrs["compare_image_id"] = other
	}

	return models.InferenceResult{
		Model:       "deterministic-v1",
		TraitVector: vector,
		Attributes:  attrs,
	}, nil
}

func dominantIndex(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best % len(styleFamilies)
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ models.InferenceProvider = (*Provider)(nil)
