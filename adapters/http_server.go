package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mqtt-telemetry/application"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	HTTPDefaultAddr            = ":8081"
	HTTPDefaultShutdownTimeout = 5 * time.Second
)

type HTTPServerParams struct {
	Addr            string
	ShutdownTimeout time.Duration

	Service  application.TelemetryService
	Gatherer prometheus.Gatherer

	Log zerolog.Logger
}

func (p *HTTPServerParams) EnsureDefaults() {
	if p.Addr == "" {
		p.Addr = HTTPDefaultAddr
	}
	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = HTTPDefaultShutdownTimeout
	}
}

// HTTPServer is the surface the dashboard talks to: state queries, the
// connect, disconnect and toggle commands, and a WebSocket state stream.
type HTTPServer struct {
	params  HTTPServerParams
	stream  *StateStream
	handler http.Handler

	log zerolog.Logger
}

func NewHTTPServer(params HTTPServerParams) (*HTTPServer, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("Service is nil")
	}
	params.EnsureDefaults()

	h := &HTTPServer{
		params: params,
		stream: NewStateStream(StateStreamParams{
			Service: params.Service,
			Log:     params.Log.With().Str("module", "state-stream").Logger(),
		}),
		log: params.Log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/state", h.state).Methods(http.MethodGet)
	r.HandleFunc("/messages", h.messages).Methods(http.MethodGet)
	r.HandleFunc("/connect", h.connect).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", h.disconnect).Methods(http.MethodPost)
	r.HandleFunc("/toggle", h.toggle).Methods(http.MethodPost)
	r.Handle("/ws", h.stream).Methods(http.MethodGet)
	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	h.handler = handlers.LoggingHandler(h.log, r)
	return h, nil
}

func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (h *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.params.Addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", h.params.Addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	h.stream.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.params.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	h.log.Info().Msg("http stopped")
	return nil
}

func (h *HTTPServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPServer) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.params.Service.CurrentState())
}

func (h *HTTPServer) messages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.params.Service.RecentMessages())
}

func (h *HTTPServer) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.params.Service.Connect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) disconnect(w http.ResponseWriter, _ *http.Request) {
	h.params.Service.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) toggle(w http.ResponseWriter, _ *http.Request) {
	if err := h.params.Service.ToggleButton(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, application.ErrPublishDebounced):
		return http.StatusTooManyRequests
	case errors.Is(err, application.ErrNotConnected),
		errors.Is(err, application.ErrConnectInProgress),
		errors.Is(err, application.ErrAlreadyConnected),
		errors.Is(err, application.ErrConnectCanceled):
		return http.StatusConflict
	case errors.Is(err, application.ErrConnectTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, application.ErrConnectRefused),
		errors.Is(err, application.ErrNetworkUnavailable),
		errors.Is(err, application.ErrBrokerRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// writeJSON encodes v before touching the response, so an encoding failure
// is still reported as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(map[string]string{"error": "encode response: " + err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
