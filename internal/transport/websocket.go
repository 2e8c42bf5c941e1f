package transport

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
	recvBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: false,
}

// WebSocketTransport adapts a gorilla/websocket connection to the
// Transport interface: binary frames carry raw packet bytes, a
// background read/write pump keeps gorilla's blocking API from ever
// blocking the caller of Send/TryRecv, and ping/pong keeps the peer's
// read deadline alive the way the teacher's client pump does.
type WebSocketTransport struct {
	conn   *websocket.Conn
	logger *log.Logger

	send chan []byte
	recv chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport wraps conn and starts its read/write pumps.
// logger may be nil to discard diagnostics.
func NewWebSocketTransport(conn *websocket.Conn, logger *log.Logger) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		recv:   make(chan []byte, recvBuffer),
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go t.readPump()
	go t.writePump()
	return t
}

func (t *WebSocketTransport) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

func (t *WebSocketTransport) readPump() {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.logf("transport: websocket read: %v", err)
			return
		}
		select {
		case t.recv <- data:
		default:
			t.logf("transport: recv buffer full, dropping packet")
		}
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer t.Close()
	for {
		select {
		case <-t.closed:
			return
		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				t.logf("transport: websocket write: %v", err)
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logf("transport: websocket ping: %v", err)
				return
			}
		}
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	cp := append([]byte(nil), data...)
	select {
	case t.send <- cp:
		return nil
	case <-t.closed:
		return ErrClosed
	default:
		return nil // bounded send buffer full: drop rather than block the caller
	}
}

// TryRecv implements Transport.
func (t *WebSocketTransport) TryRecv() ([]byte, bool) {
	select {
	case data := <-t.recv:
		return data, true
	default:
		return nil, false
	}
}

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// Listener accepts incoming WebSocket connections and hands each one off
// as a Transport via the accept channel, mirroring the teacher's Hub
// registration flow without the broadcast/hub-wide state this protocol
// doesn't need (every connection owns its own ConnectionManager).
type Listener struct {
	logger *log.Logger
	accept chan *WebSocketTransport
}

// NewListener creates a Listener. logger may be nil.
func NewListener(logger *log.Logger) *Listener {
	return &Listener{logger: logger, accept: make(chan *WebSocketTransport, 64)}
}

// ServeHTTP upgrades the connection and publishes it on Accept().
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if l.logger != nil {
			l.logger.Printf("transport: upgrade failed: %v", err)
		}
		return
	}
	t := NewWebSocketTransport(conn, l.logger)
	select {
	case l.accept <- t:
	default:
		t.Close()
		if l.logger != nil {
			l.logger.Printf("transport: accept queue full, dropping connection")
		}
	}
}

// Accept returns the channel of newly upgraded transports.
func (l *Listener) Accept() <-chan *WebSocketTransport {
	return l.accept
}

// Upgrade upgrades the connection and returns the Transport directly,
// for callers (like an HTTP handler issuing a session over this same
// request) that need the new transport paired with request-scoped data
// such as an auth token, instead of recovering it later from Accept()'s
// shared queue.
func (l *Listener) Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketTransport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketTransport(conn, l.logger), nil
}

// Dial connects to a driftnet WebSocket server as a client.
func Dial(url string, logger *log.Logger) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketTransport(conn, logger), nil
}
