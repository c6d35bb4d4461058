package application

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockBrokerLink struct {
	mock.Mock

	mu       sync.Mutex
	handlers BrokerHandlers
}

func (m *MockBrokerLink) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBrokerLink) Subscribe(topics []TopicID) error {
	args := m.Called(topics)
	return args.Error(0)
}

func (m *MockBrokerLink) Publish(topic TopicID, payload string) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func (m *MockBrokerLink) Disconnect() {
	m.Called()
}

func (m *MockBrokerLink) State() ConnectionState {
	args := m.Called()
	return args.Get(0).(ConnectionState)
}

func (m *MockBrokerLink) SetHandlers(handlers BrokerHandlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = handlers
}

func (m *MockBrokerLink) Handlers() BrokerHandlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

var _ BrokerLink = &MockBrokerLink{}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMetrics struct {
	noopMetrics

	mu        sync.Mutex
	dropped   []string
	undefined []string
}

func (m *recordingMetrics) MessageDropped(topic string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, topic+":"+reason)
}

func (m *recordingMetrics) TrendUndefined(topic TopicID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undefined = append(m.undefined, topic.String()+":"+reason)
}

func (m *recordingMetrics) Dropped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dropped...)
}

func (m *recordingMetrics) Undefined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.undefined...)
}

var _ Metrics = &recordingMetrics{}
