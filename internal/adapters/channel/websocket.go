package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/hrvlink/pkg/logger"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultRedialInterval = 2 * time.Second
	defaultSendBuffer     = 256
	maxMessageSize        = 64 * 1024
)

// WebSocket carries payloads over a single websocket connection. The display
// node accepts it via ServeHTTP; the sensor node dials with Start. A newer
// connection replaces the previous one.
type WebSocket struct {
	url            string
	writeTimeout   time.Duration
	redialInterval time.Duration
	sendBuffer     int
	upgrader       websocket.Upgrader
	dialer         *websocket.Dialer
	log            logger.Logger

	mu      sync.Mutex
	sess    *wsSession
	handler func([]byte)
	closed  bool
	done    chan struct{}
}

// wsSession is one live connection and its writer goroutine.
type wsSession struct {
	conn *websocket.Conn
	out  chan []byte
	stop chan struct{}
	once sync.Once
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// WebSocketOption configures a WebSocket.
type WebSocketOption func(*WebSocket)

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// WithSendBuffer sets how many frames may wait for the writer before Send
// starts rejecting them.
func WithSendBuffer(n int) WebSocketOption {
	return func(w *WebSocket) {
		if n > 0 {
			w.sendBuffer = n
		}
	}
}

// WithRedialInterval sets the pause between dial attempts.
func WithRedialInterval(d time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if d > 0 {
			w.redialInterval = d
		}
	}
}

// NewWebSocketListener creates the accepting side. Mount it on an HTTP mux.
func NewWebSocketListener(opts ...WebSocketOption) *WebSocket {
	return newWebSocket("", opts...)
}

// NewWebSocketDialer creates the dialing side for url (ws:// or wss://).
func NewWebSocketDialer(url string, opts ...WebSocketOption) *WebSocket {
	return newWebSocket(url, opts...)
}

func newWebSocket(url string, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		url:            url,
		writeTimeout:   defaultWriteTimeout,
		redialInterval: defaultRedialInterval,
		sendBuffer:     defaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
		log:    logger.Named("channel.websocket"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ServeHTTP upgrades the request and reads from it until the connection drops.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	sess := w.attach(conn)
	if sess == nil {
		_ = conn.Close()
		return
	}
	w.log.Info(r.Context(), "peer connected", logger.String("remote", conn.RemoteAddr().String()))
	w.readLoop(r.Context(), sess)
}

// Start dials the peer in the background and redials whenever the
// connection drops, until ctx ends or Close is called.
func (w *WebSocket) Start(ctx context.Context) {
	go func() {
		for {
			conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
			if err != nil {
				w.log.Debug(ctx, "dial failed", logger.String("url", w.url), logger.Error(err))
			} else {
				sess := w.attach(conn)
				if sess == nil {
					_ = conn.Close()
					return
				}
				w.log.Info(ctx, "connected to peer", logger.String("url", w.url))
				w.readLoop(ctx, sess)
			}

			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-time.After(w.redialInterval):
			}
		}
	}()
}

// attach makes conn the current connection and starts its writer.
// Returns nil once closed.
func (w *WebSocket) attach(conn *websocket.Conn) *wsSession {
	conn.SetReadLimit(maxMessageSize)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.sess != nil {
		w.sess.close()
	}
	sess := &wsSession{
		conn: conn,
		out:  make(chan []byte, w.sendBuffer),
		stop: make(chan struct{}),
	}
	w.sess = sess
	go w.writeLoop(sess)
	return sess
}

func (w *WebSocket) detach(sess *wsSession) {
	w.mu.Lock()
	if w.sess == sess {
		w.sess = nil
	}
	w.mu.Unlock()
	sess.close()
}

// writeLoop is the only writer of data frames on sess.conn. A failed write
// drops the connection so the read side detaches it.
func (w *WebSocket) writeLoop(sess *wsSession) {
	for {
		select {
		case <-sess.stop:
			return
		case payload := <-sess.out:
			err := sess.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err == nil {
				err = sess.conn.WriteMessage(websocket.TextMessage, payload)
			}
			if err != nil {
				w.log.Warn(context.Background(), "websocket write failed, dropping connection", logger.Error(err))
				sess.close()
				return
			}
		}
	}
}

func (w *WebSocket) readLoop(ctx context.Context, sess *wsSession) {
	defer w.detach(sess)
	conn := sess.conn
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Debug(ctx, "websocket read ended", logger.Error(err))
			}
			return
		}

		w.mu.Lock()
		h := w.handler
		w.mu.Unlock()
		if h != nil {
			h(data)
		}
	}
}

func (w *WebSocket) IsReachable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed && w.sess != nil
}

// Send queues payload as one text frame for the connection's writer. It
// never waits on the network; a full queue rejects the frame.
func (w *WebSocket) Send(_ context.Context, payload []byte) error {
	w.mu.Lock()
	closed, sess := w.closed, w.sess
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sess == nil {
		return ErrNotConnected
	}

	buf := append([]byte(nil), payload...)
	select {
	case sess.out <- buf:
		return nil
	case <-sess.stop:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

func (w *WebSocket) OnReceive(handler func([]byte)) {
	w.mu.Lock()
	w.handler = handler
	w.mu.Unlock()
}

// Close sends a close frame, drops the connection and stops redialing.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	sess := w.sess
	w.sess = nil
	w.mu.Unlock()

	if sess == nil {
		return nil
	}
	_ = sess.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	sess.close()
	return nil
}
