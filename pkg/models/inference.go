// Package models contains shared data models used across the StyleDNA codebase.
package models

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable means the provider could not be reached. Retryable.
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	// ErrInferenceTimeout means the inference call exceeded its deadline. Retryable.
	ErrInferenceTimeout = errors.New("inference timeout")
	// ErrInvalidResponse means the provider returned output that could not
	// be parsed into a result. Retryable.
	ErrInvalidResponse = errors.New("inference provider returned invalid response")
	// ErrInvalidInput means the job input itself cannot be analyzed.
	// Never retried; the job fails immediately.
	ErrInvalidInput = errors.New("inference input invalid")
)

// InferenceProvider is the core interface all inference integrations must
// implement. Never call specific providers directly — always inject this
// interface.
type InferenceProvider interface {
	// Analyze turns a job's input into a trait vector or comparison result.
	Analyze(ctx context.Context, req InferenceRequest) (InferenceResult, error)
	// Name returns the provider identifier (e.g., "deterministic", "openai").
	Name() string
}

// InferenceRequest is the input to an inference operation.
type InferenceRequest struct {
	RunType RunType        `json:"run_type"`
	ImageID string         `json:"image_id"`
	Context map[string]any `json:"context,omitempty"`
}

// InferenceResult is the output of an inference operation.
type InferenceResult struct {
	Model       string         `json:"model"`
	TraitVector []float64      `json:"trait_vector"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}
