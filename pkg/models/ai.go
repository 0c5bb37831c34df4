// Package models contains shared data models used across the genjobs codebase.
package models

import (
	"context"
	"errors"
)

// Inference failures share one taxonomy across providers so the worker can
// treat timeouts and provider errors uniformly when counting attempts.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// InferenceProvider is the core interface that all AI integrations must
// implement. Never call specific AI providers directly — always inject
// this interface.
type InferenceProvider interface {
	// Infer runs a single text-generation call. It must respect ctx
	// cancellation; a call is never interrupted once the provider has
	// accepted it, but Infer returns as soon as ctx expires.
	Infer(ctx context.Context, req InferenceRequest) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// InferenceRequest is the input to a single inference call.
type InferenceRequest struct {
	// System sets the assistant persona and output contract.
	System string
	// Prompt is the fully rendered user prompt, including the frozen
	// subject snapshot and any job-specific context.
	Prompt string
}
