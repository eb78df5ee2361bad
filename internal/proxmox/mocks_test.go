package proxmox

import (
	"context"
	"strings"
	"sync"
)

// mockRunner is a mock implementation of the CommandRunner interface for
// testing.
type mockRunner struct {
	mu sync.Mutex

	// Configurable behavior
	runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// Call tracking: each entry is the full command line.
	calls []string
}

// newMockRunner creates a mock runner whose commands succeed with empty
// output by default.
func newMockRunner() *mockRunner {
	return &mockRunner{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, strings.Join(append([]string{name}, args...), " "))
	fn := m.runFunc
	m.mu.Unlock()
	return fn(ctx, name, args...)
}

func (m *mockRunner) callLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
