package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"mqtt-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultHost           = "broker.emqx.io"
	MQTTDefaultPort           = 8083
	MQTTDefaultPath           = "/esp32"
	MQTTDefaultConnectTimeout = 3 * time.Second
	MQTTDefaultPublishTimeout = 5 * time.Second

	MQTTTransportWebSocket = "ws"
	MQTTTransportTCP       = "tcp"

	mqttQoS             = byte(0)
	mqttDisconnectQuiet = 250 // ms
	subackFailure       = 0x80
)

var refusalErrors = []error{
	packets.ErrorRefusedBadProtocolVersion,
	packets.ErrorRefusedIDRejected,
	packets.ErrorRefusedServerUnavailable,
	packets.ErrorRefusedBadUsernameOrPassword,
	packets.ErrorRefusedNotAuthorised,
}

type MQTTClientParams struct {
	Host      string
	Port      int
	Path      string
	Transport string
	UseTLS    bool
	ClientID  string
	Username  string
	Password  string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client
	Clock         func() time.Time

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.Host == "" {
		m.Host = MQTTDefaultHost
	}

	if m.Port == 0 {
		m.Port = MQTTDefaultPort
	}

	if m.Transport == "" {
		m.Transport = MQTTTransportWebSocket
	}

	if m.Transport == MQTTTransportWebSocket && m.Path == "" {
		m.Path = MQTTDefaultPath
	}

	if m.ClientID == "" {
		m.ClientID = RandomClientID()
	}

	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}

	if m.Clock == nil {
		m.Clock = time.Now
	}
}

// BrokerURL builds the paho broker address, e.g. ws://broker.emqx.io:8083/esp32.
func (m *MQTTClientParams) BrokerURL() string {
	scheme := "ws"
	switch {
	case m.Transport == MQTTTransportTCP && m.UseTLS:
		scheme = "ssl"
	case m.Transport == MQTTTransportTCP:
		scheme = "tcp"
	case m.UseTLS:
		scheme = "wss"
	}

	url := scheme + "://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if m.Transport == MQTTTransportWebSocket && m.Path != "" {
		if !strings.HasPrefix(m.Path, "/") {
			url += "/"
		}
		url += m.Path
	}
	return url
}

// RandomClientID returns an id in the form id_xxxxxxxx.
func RandomClientID() string {
	return "id_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// MQTTClient is a BrokerLink backed by paho. It never reconnects on its own.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	mu         sync.Mutex
	state      application.ConnectionState
	abort      chan struct{}
	subscribed map[application.TopicID]struct{}
	handlers   application.BrokerHandlers

	// held for reading while a message is handed to OnMessage
	delivering sync.RWMutex

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{
		params:     params,
		subscribed: make(map[application.TopicID]struct{}),
		log:        params.Log,
	}
	m.client = m.newMqttClient()

	return m
}

func (m *MQTTClient) SetHandlers(handlers application.BrokerHandlers) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = handlers
}

func (m *MQTTClient) State() application.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *MQTTClient) IsConnected() bool {
	return m.State() == application.Connected
}

// Connect makes a single connection attempt. Only one attempt may be in
// flight, and Disconnect aborts it.
func (m *MQTTClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case application.Connecting:
		m.mu.Unlock()
		return application.ErrConnectInProgress
	case application.Connected:
		m.mu.Unlock()
		return application.ErrAlreadyConnected
	}
	abort := make(chan struct{})
	m.abort = abort
	m.state = application.Connecting
	m.mu.Unlock()

	m.emitState(application.Connecting)
	m.log.Info().Str("broker", m.params.BrokerURL()).Str("client_id", m.params.ClientID).Msg("connecting")

	tc := time.NewTimer(m.params.ConnectTimeout)
	defer tc.Stop()

	token := m.client.Connect()

	var err error
	select {
	case <-tc.C:
		err = application.ErrConnectTimeout
		go m.discardLateSession(token)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", application.ErrConnectCanceled, ctx.Err())
		go m.discardLateSession(token)
	case <-abort:
		go m.discardLateSession(token)
		return application.ErrConnectCanceled
	case <-token.Done():
		err = classifyConnectError(token.Error())
	}

	m.mu.Lock()
	if m.abort != abort {
		// Disconnect raced with completion and already reset the state
		m.mu.Unlock()
		if err == nil {
			m.client.Disconnect(0)
		}
		return application.ErrConnectCanceled
	}
	m.abort = nil
	if err != nil {
		m.state = application.Disconnected
		m.mu.Unlock()

		m.client.Disconnect(0)
		m.emitState(application.Disconnected)
		m.log.Warn().Err(err).Msg("connect failed")
		return err
	}
	m.state = application.Connected
	m.mu.Unlock()

	m.emitState(application.Connected)
	m.log.Info().Msg("connected")
	return nil
}

// Subscribe subscribes to the topics not yet subscribed in this session.
func (m *MQTTClient) Subscribe(topics []application.TopicID) error {
	m.mu.Lock()
	if m.state != application.Connected {
		m.mu.Unlock()
		return application.ErrNotConnected
	}
	filters := make(map[string]byte)
	var pending []application.TopicID
	for _, topic := range topics {
		if _, ok := m.subscribed[topic]; ok {
			continue
		}
		filters[topic.Name()] = mqttQoS
		pending = append(pending, topic)
	}
	m.mu.Unlock()

	if len(filters) == 0 {
		return nil
	}

	token := m.client.SubscribeMultiple(filters, m.onMessage)
	if err := m.waitToken(token); err != nil {
		return fmt.Errorf("%w: subscribe: %v", application.ErrBrokerRejected, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("%w: subscribe %s", application.ErrBrokerRejected, topic)
			}
		}
	}

	m.mu.Lock()
	for _, topic := range pending {
		m.subscribed[topic] = struct{}{}
	}
	m.mu.Unlock()

	m.log.Info().Int("topics", len(pending)).Msg("subscribed")
	return nil
}

func (m *MQTTClient) Publish(topic application.TopicID, payload string) error {
	if !m.IsConnected() {
		return application.ErrNotConnected
	}

	token := m.client.Publish(topic.Name(), mqttQoS, false, payload)
	if err := m.waitToken(token); err != nil {
		return fmt.Errorf("%w: publish: %v", application.ErrBrokerRejected, err)
	}

	m.log.Debug().Str("topic", topic.Name()).Str("payload", payload).Msg("published")
	return nil
}

// Disconnect is idempotent. Once it returns no further messages are
// delivered.
func (m *MQTTClient) Disconnect() {
	m.mu.Lock()
	if m.state == application.Disconnected {
		m.mu.Unlock()
		return
	}
	if m.abort != nil {
		close(m.abort)
		m.abort = nil
	}
	m.state = application.Disconnected
	m.subscribed = make(map[application.TopicID]struct{})
	m.mu.Unlock()

	// wait out deliveries that passed the state check before it changed
	m.delivering.Lock()
	m.delivering.Unlock()

	m.client.Disconnect(mqttDisconnectQuiet)
	m.emitState(application.Disconnected)
	m.log.Info().Msg("disconnected")
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Debug().Msg("connack received")
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.mu.Lock()
	if m.state != application.Connected {
		m.mu.Unlock()
		return
	}
	m.state = application.Disconnected
	m.subscribed = make(map[application.TopicID]struct{})
	handler := m.handlers.OnConnectionLost
	m.mu.Unlock()

	m.log.Warn().Err(err).Msg("connection lost")
	if handler != nil {
		handler(err)
	}
}

func (m *MQTTClient) onMessage(client mqtt.Client, msg mqtt.Message) {
	m.delivering.RLock()
	defer m.delivering.RUnlock()

	m.mu.Lock()
	if m.state != application.Connected {
		m.mu.Unlock()
		return
	}
	handler := m.handlers.OnMessage
	m.mu.Unlock()

	if handler != nil {
		handler(msg.Topic(), msg.Payload(), m.params.Clock())
	}
}

func (m *MQTTClient) emitState(state application.ConnectionState) {
	m.mu.Lock()
	handler := m.handlers.OnStateChange
	m.mu.Unlock()

	if handler != nil {
		handler(state)
	}
}

// discardLateSession closes a session paho completes after the attempt was
// abandoned.
func (m *MQTTClient) discardLateSession(token mqtt.Token) {
	<-token.Done()
	if token.Error() == nil && !m.IsConnected() {
		m.client.Disconnect(0)
	}
}

func (m *MQTTClient) waitToken(token mqtt.Token) error {
	tc := time.NewTimer(m.params.PublishTimeout)
	defer tc.Stop()

	select {
	case <-tc.C:
		return fmt.Errorf("timeout after %s", m.params.PublishTimeout)
	case <-token.Done():
		return token.Error()
	}
}

func (m *MQTTClient) newMqttClient() mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.BrokerURL())
	opts.SetClientID(m.params.ClientID)
	if m.params.Username != "" {
		opts.SetUsername(m.params.Username)
		opts.SetPassword(m.params.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetOrderMatters(true)

	opts.SetDefaultPublishHandler(m.onMessage)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	for _, refusal := range refusalErrors {
		if errors.Is(err, refusal) {
			return fmt.Errorf("%w: %v", application.ErrConnectRefused, err)
		}
	}
	return fmt.Errorf("%w: %v", application.ErrNetworkUnavailable, err)
}

var _ application.BrokerLink = &MQTTClient{}
