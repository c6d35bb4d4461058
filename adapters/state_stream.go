package adapters

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mqtt-telemetry/application"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	StreamDefaultWriteWait = 2 * time.Second
	StreamDefaultPongWait  = 60 * time.Second

	streamMaxMessageSize = 512
)

type StateStreamParams struct {
	Service application.TelemetryService

	WriteWait time.Duration
	PongWait  time.Duration

	Log zerolog.Logger
}

func (p *StateStreamParams) EnsureDefaults() {
	if p.WriteWait == 0 {
		p.WriteWait = StreamDefaultWriteWait
	}
	if p.PongWait == 0 {
		p.PongWait = StreamDefaultPongWait
	}
}

// StateStream pushes service state to WebSocket clients. Changes that arrive
// while a client is still writing are coalesced, so a slow client skips
// intermediate states but always ends on the latest one.
type StateStream struct {
	params   StateStreamParams
	upgrader websocket.Upgrader
	clients  atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once

	log zerolog.Logger
}

func NewStateStream(params StateStreamParams) *StateStream {
	params.EnsureDefaults()

	return &StateStream{
		params: params,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		shutdown: make(chan struct{}),
		log:      params.Log,
	}
}

// Close disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown.
func (s *StateStream) Close() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

func (s *StateStream) Clients() int {
	return int(s.clients.Load())
}

func (s *StateStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &streamClient{
		conn:    conn,
		service: s.params.Service,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// subscribe before the first write so no change is missed in between
	unsubscribe := s.params.Service.Subscribe(c.offer)
	c.offer(application.State{})

	s.clients.Add(1)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("stream client connected")
	defer func() {
		unsubscribe()
		s.clients.Add(-1)
		s.log.Debug().Str("remote", r.RemoteAddr).Msg("stream client disconnected")
	}()

	go c.readPump(s.params.PongWait)
	go func() {
		select {
		case <-s.shutdown:
			c.close()
		case <-c.done:
		}
	}()
	c.writePump(s.params.WriteWait, s.params.PongWait*9/10)
}

type streamClient struct {
	conn    *websocket.Conn
	service application.TelemetryService
	dirty   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// offer marks the client as behind. The state itself is read again when
// writing.
func (c *streamClient) offer(application.State) {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump discards client frames and notices when the peer goes away.
func (c *streamClient) readPump(pongWait time.Duration) {
	defer c.close()

	c.conn.SetReadLimit(streamMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.dirty:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(c.service.CurrentState()); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
