package adapters

import (
	"context"
	"sync"
	"time"

	"mqtt-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	return m.Called().Get(0).(chan struct{})
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

// doneToken returns a token that has already completed with err.
func doneToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)

	token := &MockToken{}
	token.On("Done").Return(done)
	token.On("Error").Return(err)
	return token
}

// pendingToken returns a token that never completes.
func pendingToken() *MockToken {
	token := &MockToken{}
	token.On("Done").Return(make(chan struct{}))
	return token
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (f fakeMessage) Duplicate() bool   { return false }
func (f fakeMessage) Qos() byte         { return 0 }
func (f fakeMessage) Retained() bool    { return false }
func (f fakeMessage) Topic() string     { return f.topic }
func (f fakeMessage) MessageID() uint16 { return 0 }
func (f fakeMessage) Payload() []byte   { return f.payload }
func (f fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

type MockTelemetryService struct {
	mock.Mock

	mu        sync.Mutex
	listeners []application.Listener
}

func (m *MockTelemetryService) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTelemetryService) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTelemetryService) Disconnect() {
	m.Called()
}

func (m *MockTelemetryService) ToggleButton() error {
	return m.Called().Error(0)
}

func (m *MockTelemetryService) HandleInboundMessage(topic string, payload []byte, receivedAt time.Time) error {
	return m.Called(topic, payload, receivedAt).Error(0)
}

func (m *MockTelemetryService) CurrentState() application.State {
	return m.Called().Get(0).(application.State)
}

func (m *MockTelemetryService) RecentMessages() []application.InboundMessage {
	return m.Called().Get(0).([]application.InboundMessage)
}

// Subscribe records listeners so tests can push states with Emit.
func (m *MockTelemetryService) Subscribe(listener application.Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.listeners)
	m.listeners = append(m.listeners, listener)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[idx] = nil
	}
}

func (m *MockTelemetryService) Emit(state application.State) {
	m.mu.Lock()
	listeners := append([]application.Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(state)
		}
	}
}

func (m *MockTelemetryService) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.listeners {
		if l != nil {
			n++
		}
	}
	return n
}

var _ application.TelemetryService = &MockTelemetryService{}
