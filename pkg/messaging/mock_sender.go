package messaging

import (
	"context"
	"sync"
)

// MockMessageSender records updates in memory. Used by tests and by the
// daemon when no broker is configured.
type MockMessageSender struct {
	mu      sync.Mutex
	updates []*BookUpdate
	closed  bool
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// SendBookUpdate stores a copy of the update.
func (m *MockMessageSender) SendBookUpdate(_ context.Context, update *BookUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *update
	m.updates = append(m.updates, &cp)
	return nil
}

// Updates returns the updates sent so far
func (m *MockMessageSender) Updates() []*BookUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*BookUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// Close marks the sender closed.
func (m *MockMessageSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
