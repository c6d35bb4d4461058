package adapters

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mqtt-telemetry/application"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T, svc *MockTelemetryService) *httptest.Server {
	t.Helper()

	metrics := NewPrometheusMetrics()
	h, err := NewHTTPServer(HTTPServerParams{
		Service:  svc,
		Gatherer: metrics.Registry(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func testState() application.State {
	history := []application.Reading{
		{Topic: application.TopicTemperature, Value: 20, ReceivedAt: time.Unix(0, 0)},
		{Topic: application.TopicTemperature, Value: 25, ReceivedAt: time.Unix(1, 0)},
	}
	temperature, _ := application.ComputeTrend(history)
	gauge := application.NewTemperatureGauge(temperature.Latest)

	return application.State{
		Connection:  application.Connected,
		Temperature: temperature,
		Luminosity:  application.EmptyTrend(),
		Gauge:       &gauge,
		Button:      application.ButtonOn,
		UpdatedAt:   time.Unix(1, 0).UTC(),
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewHTTPServer_NoService(t *testing.T) {
	h, err := NewHTTPServer(HTTPServerParams{})
	require.Error(t, err)
	require.Nil(t, h)
}

func TestHTTPServer_Health(t *testing.T) {
	srv := newTestHTTPServer(t, &MockTelemetryService{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestHTTPServer_State(t *testing.T) {
	svc := &MockTelemetryService{}
	svc.On("CurrentState").Return(testState()).Once()
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decodeBody(t, resp)
	assert.Equal(t, "connected", body["connection"])
	assert.Equal(t, "1", body["button"])

	temperature := body["temperature"].(map[string]any)
	assert.Equal(t, 25.0, temperature["deltaPercent"])
	assert.Equal(t, "up", temperature["direction"])
	assert.Equal(t, 22.5, temperature["mean"])

	luminosity := body["luminosity"].(map[string]any)
	assert.Nil(t, luminosity["mean"])
	assert.Equal(t, "flat", luminosity["direction"])

	gauge := body["gauge"].(map[string]any)
	assert.Equal(t, "warm", gauge["band"])

	svc.AssertExpectations(t)
}

func TestHTTPServer_Messages(t *testing.T) {
	svc := &MockTelemetryService{}
	svc.On("RecentMessages").Return([]application.InboundMessage{
		{Topic: "/botao", Payload: "1", ReceivedAt: time.Unix(0, 0).UTC()},
	}).Once()
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Get(srv.URL + "/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	var messages []application.InboundMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "/botao", messages[0].Topic)

	svc.AssertExpectations(t)
}

func TestHTTPServer_Toggle(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: nil, status: http.StatusAccepted},
		{err: application.ErrPublishDebounced, status: http.StatusTooManyRequests},
		{err: application.ErrNotConnected, status: http.StatusConflict},
		{err: fmt.Errorf("%w: publish: internal", application.ErrBrokerRejected), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		svc := &MockTelemetryService{}
		svc.On("ToggleButton").Return(tt.err).Once()
		srv := newTestHTTPServer(t, svc)

		resp, err := http.Post(srv.URL+"/toggle", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, "error %v", tt.err)
		if tt.err != nil {
			assert.Equal(t, tt.err.Error(), decodeBody(t, resp)["error"])
		} else {
			resp.Body.Close()
		}

		svc.AssertExpectations(t)
	}
}

func TestHTTPServer_Connect(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: nil, status: http.StatusNoContent},
		{err: application.ErrConnectTimeout, status: http.StatusGatewayTimeout},
		{err: fmt.Errorf("%w: not Authorized", application.ErrConnectRefused), status: http.StatusBadGateway},
		{err: application.ErrNetworkUnavailable, status: http.StatusBadGateway},
		{err: application.ErrConnectInProgress, status: http.StatusConflict},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		svc := &MockTelemetryService{}
		svc.On("Connect", mock.Anything).Return(tt.err).Once()
		srv := newTestHTTPServer(t, svc)

		resp, err := http.Post(srv.URL+"/connect", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.status, resp.StatusCode, "error %v", tt.err)

		svc.AssertExpectations(t)
	}
}

func TestHTTPServer_Disconnect(t *testing.T) {
	svc := &MockTelemetryService{}
	svc.On("Disconnect").Return().Once()
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Post(srv.URL+"/disconnect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestHTTPServer_MethodNotAllowed(t *testing.T) {
	svc := &MockTelemetryService{}
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Get(srv.URL + "/toggle")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	svc.AssertNotCalled(t, "ToggleButton")
}

func TestHTTPServer_Metrics(t *testing.T) {
	srv := newTestHTTPServer(t, &MockTelemetryService{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_Stream(t *testing.T) {
	svc := &MockTelemetryService{}
	svc.On("CurrentState").Return(testState()).Once()
	srv := newTestHTTPServer(t, svc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))

	initial := map[string]any{}
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "connected", initial["connection"])

	assert.Eventually(t, func() bool { return svc.ListenerCount() == 1 }, time.Second, time.Millisecond)

	next := testState()
	next.Connection = application.Disconnected
	next.LinkError = "EOF"
	svc.On("CurrentState").Return(next).Once()
	svc.Emit(next)

	update := map[string]any{}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "disconnected", update["connection"])
	assert.Equal(t, "EOF", update["linkError"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return svc.ListenerCount() == 0 }, time.Second, time.Millisecond)

	svc.AssertExpectations(t)
}

func TestHTTPServer_StreamSubscribesBeforeFirstState(t *testing.T) {
	svc := &MockTelemetryService{}
	var listenersAtRead atomic.Int64
	svc.On("CurrentState").Run(func(mock.Arguments) {
		listenersAtRead.Store(int64(svc.ListenerCount()))
	}).Return(testState()).Once()
	srv := newTestHTTPServer(t, svc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	initial := map[string]any{}
	require.NoError(t, conn.ReadJSON(&initial))

	// a change made before the first write cannot be lost
	assert.Equal(t, int64(1), listenersAtRead.Load())
	svc.AssertExpectations(t)
}

func TestWriteJSON_EncodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"value": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := map[string]string{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "unsupported value")
}
