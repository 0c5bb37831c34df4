package mock

import (
	"context"
	"fmt"

	"github.com/ayupilot/genjobs/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for tests and local
// development without a real inference backend.
type MockProvider struct {
	Name_     string
	InferFunc func(ctx context.Context, req models.InferenceRequest) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	if m.InferFunc != nil {
		return m.InferFunc(ctx, req)
	}
	return "", nil
}

// NewProvider returns a MockProvider that echoes a canned completion.
func NewProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		InferFunc: func(_ context.Context, req models.InferenceRequest) (string, error) {
			return fmt.Sprintf("Mock generation output.\n\nPrompt was:\n%s", req.Prompt), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		InferFunc: func(_ context.Context, _ models.InferenceRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		InferFunc: func(ctx context.Context, _ models.InferenceRequest) (string, error) {
			<-ctx.Done()
			return "", models.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements InferenceProvider.
var _ models.InferenceProvider = (*MockProvider)(nil)
