package llm

import (
	"context"
	"sync"
)

// MockProvider is a Provider for tests. Unset funcs return Response.
type MockProvider struct {
	Response               string
	GenerateResponseFunc   func(ctx context.Context, prompt, systemPrompt string, options map[string]interface{}) (string, error)
	GenerateWithImagesFunc func(ctx context.Context, prompt, systemPrompt string, images []Image, options map[string]interface{}) (string, error)

	mu      sync.Mutex
	prompts []string
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) record(prompt string) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func (m *MockProvider) GenerateResponse(ctx context.Context, prompt, systemPrompt string, options map[string]interface{}) (string, error) {
	m.record(prompt)
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemPrompt, options)
	}
	return m.Response, nil
}

func (m *MockProvider) GenerateWithImages(ctx context.Context, prompt, systemPrompt string, images []Image, options map[string]interface{}) (string, error) {
	m.record(prompt)
	if m.GenerateWithImagesFunc != nil {
		return m.GenerateWithImagesFunc(ctx, prompt, systemPrompt, images, options)
	}
	return m.Response, nil
}

func (m *MockProvider) AdaptInstructions(raw string) string { return raw }
