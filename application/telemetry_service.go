package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	DefaultMessageLogSize = 50
	DefaultEventBuffer    = 256
)

var (
	errNotFinite    = errors.New("value is not finite")
	errStaleSession = errors.New("message from a closed broker session")
)

// State is what the dashboard renders.
type State struct {
	Connection  ConnectionState   `json:"connection"`
	LinkError   string            `json:"linkError,omitempty"`
	Temperature TrendSnapshot     `json:"temperature"`
	Luminosity  TrendSnapshot     `json:"luminosity"`
	Gauge       *TemperatureGauge `json:"gauge,omitempty"`
	Button      ButtonState       `json:"button"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Listener is called after every state change. Listeners are called
// sequentially from the goroutine that applied the change and must not block.
type Listener func(State)

type TelemetryService interface {
	Run(ctx context.Context) error

	Connect(ctx context.Context) error
	Disconnect()
	ToggleButton() error

	HandleInboundMessage(topic string, payload []byte, receivedAt time.Time) error
	CurrentState() State
	RecentMessages() []InboundMessage
	Subscribe(listener Listener) (unsubscribe func())
}

type TelemetryServiceParams struct {
	BrokerLink BrokerLink

	Topics         []TopicID
	Retention      int
	// DebounceWindow defaults to DefaultDebounceWindow when zero. A negative
	// window disables debouncing.
	DebounceWindow time.Duration
	MessageLogSize int
	EventBuffer    int

	Metrics Metrics
	Clock   func() time.Time

	Log zerolog.Logger
}

func (p *TelemetryServiceParams) EnsureDefaults() {
	if len(p.Topics) == 0 {
		p.Topics = AllTopics
	}
	if p.DebounceWindow == 0 {
		p.DebounceWindow = DefaultDebounceWindow
	}
	if p.MessageLogSize == 0 {
		p.MessageLogSize = DefaultMessageLogSize
	}
	if p.EventBuffer <= 0 {
		p.EventBuffer = DefaultEventBuffer
	}
	if p.Metrics == nil {
		p.Metrics = noopMetrics{}
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventStateChange
	eventConnectionLost
)

type brokerEvent struct {
	kind eventKind

	topic      string
	payload    []byte
	receivedAt time.Time

	state  ConnectionState
	reason error

	session uint64
}

type telemetryService struct {
	params TelemetryServiceParams

	events  chan brokerEvent
	stopped chan struct{}
	running atomic.Bool

	debouncer *Debouncer

	mu         sync.RWMutex
	store      *ReadingStore
	trends     map[TopicID]TrendSnapshot
	button     ButtonState
	connection ConnectionState
	linkError  string
	updatedAt  time.Time
	messages   []InboundMessage
	session    uint64

	listenersMu    sync.Mutex
	listeners      map[uint64]Listener
	nextListenerID uint64

	log zerolog.Logger
}

func NewTelemetryService(params TelemetryServiceParams) (TelemetryService, error) {
	if params.BrokerLink == nil {
		return nil, fmt.Errorf("BrokerLink is nil")
	}
	if params.Retention < 0 {
		return nil, fmt.Errorf("retention must not be negative")
	}
	params.EnsureDefaults()

	s := &telemetryService{
		params:    params,
		events:    make(chan brokerEvent, params.EventBuffer),
		stopped:   make(chan struct{}),
		debouncer: NewDebouncer(max(params.DebounceWindow, 0), params.Clock),
		store:     NewReadingStore(params.Retention),
		trends: map[TopicID]TrendSnapshot{
			TopicTemperature: EmptyTrend(),
			TopicLuminosity:  EmptyTrend(),
		},
		connection: params.BrokerLink.State(),
		listeners:  make(map[uint64]Listener),
		log:        params.Log,
	}

	params.BrokerLink.SetHandlers(BrokerHandlers{
		OnMessage: func(topic string, payload []byte, receivedAt time.Time) {
			s.enqueue(brokerEvent{
				kind:       eventMessage,
				topic:      topic,
				payload:    payload,
				receivedAt: receivedAt,
				session:    s.currentSession(),
			})
		},
		OnConnectionLost: func(reason error) {
			s.enqueue(brokerEvent{kind: eventConnectionLost, state: Disconnected, reason: reason})
		},
		OnStateChange: func(state ConnectionState) {
			s.enqueue(brokerEvent{kind: eventStateChange, state: state})
		},
	})

	return s, nil
}

// Run applies broker events in arrival order until ctx is done, then
// disconnects the broker link.
func (s *telemetryService) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("telemetry service is already running")
	}

	s.log.Info().Msg("event loop started")
	defer s.log.Info().Msg("event loop stopped")

	defer s.params.BrokerLink.Disconnect()
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *telemetryService) enqueue(ev brokerEvent) {
	select {
	case s.events <- ev:
	case <-s.stopped:
		s.log.Debug().Int("kind", int(ev.kind)).Msg("event loop stopped, event dropped")
	}
}

func (s *telemetryService) handleEvent(ev brokerEvent) {
	switch ev.kind {
	case eventMessage:
		// failures are logged and counted by ingest
		_ = s.ingest(ev.topic, ev.payload, ev.receivedAt, &ev.session)
	case eventStateChange:
		s.setConnection(ev.state, nil)
	case eventConnectionLost:
		s.log.Warn().Err(ev.reason).Msg("connection lost")
		s.setConnection(Disconnected, ev.reason)
	}
}

// Connect connects the broker link and subscribes to the configured topics.
// Failed attempts are not retried.
func (s *telemetryService) Connect(ctx context.Context) error {
	s.log.Info().Msg("connecting to broker")

	if err := s.params.BrokerLink.Connect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("connect failed")
		return err
	}

	if err := s.params.BrokerLink.Subscribe(s.params.Topics); err != nil {
		s.log.Warn().Err(err).Msg("subscribe failed")
		return err
	}

	s.log.Info().Int("topics", len(s.params.Topics)).Msg("connected and subscribed")
	return nil
}

// Disconnect closes the broker session. Messages still queued from it are
// discarded.
func (s *telemetryService) Disconnect() {
	s.log.Info().Msg("disconnecting from broker")
	s.params.BrokerLink.Disconnect()

	s.mu.Lock()
	s.session++
	s.mu.Unlock()
}

func (s *telemetryService) currentSession() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.session
}

// ToggleButton publishes the complement of the last button state. Calls made
// while a toggle is in flight or within the debounce window after a
// successful one fail with ErrPublishDebounced and publish nothing.
func (s *telemetryService) ToggleButton() error {
	if !s.debouncer.Acquire() {
		s.params.Metrics.PublishAttempted(PublishResultDebounced)
		return ErrPublishDebounced
	}

	s.mu.RLock()
	next := s.button.Next()
	s.mu.RUnlock()

	err := s.params.BrokerLink.Publish(TopicButton, string(next))
	s.debouncer.Release(err == nil)
	if err != nil {
		s.params.Metrics.PublishAttempted(PublishResultError)
		s.log.Warn().Err(err).Str("payload", string(next)).Msg("toggle publish failed")
		return err
	}

	s.params.Metrics.PublishAttempted(PublishResultOK)
	s.log.Info().Str("payload", string(next)).Msg("toggle published")
	return nil
}

// HandleInboundMessage ingests one broker message. Malformed numeric payloads
// and unknown topics are dropped without touching the stores.
func (s *telemetryService) HandleInboundMessage(topic string, payload []byte, receivedAt time.Time) error {
	return s.ingest(topic, payload, receivedAt, nil)
}

// ingest applies a message. A non-nil session that is no longer current
// means the message was queued before a Disconnect and it is dropped.
func (s *telemetryService) ingest(topic string, payload []byte, receivedAt time.Time, session *uint64) error {
	raw := string(payload)
	id, known := TopicFromName(topic)

	var value float64
	var parseErr error
	if known && id.Numeric() {
		value, parseErr = parseReading(id, raw)
	}

	s.mu.Lock()
	if session != nil && *session != s.session {
		s.mu.Unlock()
		s.params.Metrics.MessageDropped(topic, DropReasonStaleSession)
		s.log.Debug().Str("topic", topic).Msg("dropping message from a closed session")
		return errStaleSession
	}

	s.params.Metrics.MessageReceived(topic)
	s.appendMessageLocked(InboundMessage{Topic: topic, Payload: raw, ReceivedAt: receivedAt})

	if parseErr != nil {
		s.mu.Unlock()
		s.params.Metrics.MessageDropped(topic, DropReasonParse)
		s.log.Warn().Err(parseErr).Str("topic", topic).Msg("dropping message")
		return parseErr
	}

	if !known {
		s.mu.Unlock()
		s.params.Metrics.MessageDropped(topic, DropReasonUnknownTopic)
		s.log.Warn().Str("topic", topic).Msg("dropping message on unknown topic")
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var trendErr error
	if id.Numeric() {
		s.store.Append(id, value, receivedAt)
		s.trends[id], trendErr = ComputeTrend(s.store.History(id))
	} else {
		s.button = ButtonState(raw)
	}

	s.updatedAt = receivedAt
	state := s.snapshotLocked()
	s.mu.Unlock()

	if id.Numeric() {
		s.params.Metrics.ReadingRecorded(id, value)
	}
	switch {
	case errors.Is(trendErr, ErrZeroBaseline):
		s.params.Metrics.TrendUndefined(id, TrendReasonZeroBaseline)
		s.log.Debug().Str("topic", topic).Msg("previous reading is zero, delta undefined")
	case errors.Is(trendErr, ErrTrendOverflow):
		s.params.Metrics.TrendUndefined(id, TrendReasonOverflow)
		s.log.Warn().Str("topic", topic).Str("payload", raw).Msg("trend out of range")
	}

	s.notify(state)
	return nil
}

func (s *telemetryService) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// RecentMessages returns the latest raw messages on any topic, oldest first.
func (s *telemetryService) RecentMessages() []InboundMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]InboundMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *telemetryService) Subscribe(listener Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *telemetryService) setConnection(state ConnectionState, reason error) {
	s.mu.Lock()
	if s.connection == state && reason == nil {
		s.mu.Unlock()
		return
	}

	s.connection = state
	switch {
	case reason != nil:
		s.linkError = reason.Error()
	case state == Connected:
		s.linkError = ""
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info().Stringer("state", state).Msg("connection state changed")
	s.params.Metrics.ConnectionChanged(state)
	s.notify(snapshot)
}

func (s *telemetryService) notify(state State) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		var pc panics.Catcher
		pc.Try(func() { l(state) })
		if r := pc.Recovered(); r != nil {
			s.log.Error().Err(r.AsError()).Msg("state listener panicked")
		}
	}
}

func (s *telemetryService) appendMessageLocked(m InboundMessage) {
	limit := s.params.MessageLogSize
	if limit < 0 {
		return
	}
	if len(s.messages) >= limit {
		n := copy(s.messages, s.messages[len(s.messages)-limit+1:])
		s.messages = s.messages[:n]
	}
	s.messages = append(s.messages, m)
}

func (s *telemetryService) snapshotLocked() State {
	state := State{
		Connection:  s.connection,
		LinkError:   s.linkError,
		Temperature: s.trends[TopicTemperature],
		Luminosity:  s.trends[TopicLuminosity],
		Button:      s.button,
		UpdatedAt:   s.updatedAt,
	}
	if state.Temperature.Count > 0 {
		gauge := NewTemperatureGauge(state.Temperature.Latest)
		state.Gauge = &gauge
	}
	return state
}

func parseReading(topic TopicID, payload string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, &ParseError{Topic: topic, Payload: payload, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Topic: topic, Payload: payload, Err: errNotFinite}
	}
	return v, nil
}

var _ TelemetryService = &telemetryService{}
