package mock

import (
	"context"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for testing.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.InferenceResult{}, nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
			return models.InferenceResult{
				Model:       "mock-v1",
				TraitVector: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
				Attributes:  map[string]any{"style_family": "minimalist", "image_id": req.ImageID},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.InferenceRequest) (models.InferenceResult, error) {
			return models.InferenceResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.InferenceRequest) (models.InferenceResult, error) {
			<-ctx.Done()
			return models.InferenceResult{}, models.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements InferenceProvider.
var _ models.InferenceProvider = (*MockProvider)(nil)
