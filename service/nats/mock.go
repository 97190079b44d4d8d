package nats

import (
	"context"
	"sync"
)

// MockPublisher records published credit events in memory.
type MockPublisher struct {
	mu     sync.Mutex
	events []*CreditEvent
	err    error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishCredit records event, or returns the error set by SetPublishError.
func (m *MockPublisher) PublishCredit(_ context.Context, event *CreditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// GetPublishedEvents returns a copy of the recorded events.
func (m *MockPublisher) GetPublishedEvents() []*CreditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*CreditEvent(nil), m.events...)
}

func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
