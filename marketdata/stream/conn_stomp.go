package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
)

// stompSubprotocols are offered during the websocket upgrade.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type stompConn struct {
	session *stomp.Conn
	wire    *watchedConn
	closing atomic.Bool
}

var _ conn = (*stompConn)(nil)

// newStompConn dials the broker over a websocket and performs the STOMP handshake.
// The session lives until ctx is done or close is called.
func newStompConn(ctx context.Context, cfg dialConfig) (conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	reqHeader := http.Header{}
	reqHeader.Set("User-Agent", userAgent)
	//nolint:bodyclose // According to its docs: you never need to close resp.Body yourself
	ws, _, err := websocket.Dial(dialCtx, cfg.url.String(), &websocket.DialOptions{
		HTTPHeader:   reqHeader,
		Subprotocols: stompSubprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	// Batches for large watchlists can be big.
	ws.SetReadLimit(-1)

	wire := newWatchedConn(websocket.NetConn(ctx, ws, websocket.MessageText))
	if err := wire.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		wire.Close()
		return nil, err
	}
	session, err := stomp.Connect(wire,
		stomp.ConnOpt.Host(cfg.url.Hostname()),
		stomp.ConnOpt.Login(cfg.login, cfg.passcode),
		stomp.ConnOpt.AcceptVersion(stomp.V12),
		stomp.ConnOpt.HeartBeat(cfg.heartbeat, 0),
	)
	if err != nil {
		wire.Close()
		var stompErr stomp.Error
		if errors.As(err, &stompErr) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionRejected, stompErr.Message)
		}
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}
	if err := wire.SetReadDeadline(time.Time{}); err != nil {
		session.MustDisconnect()
		return nil, err
	}

	return &stompConn{session: session, wire: wire}, nil
}

func (c *stompConn) subscribe(destination string) (brokerSubscription, error) {
	sub, err := c.session.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	return newStompSubscription(sub, c.wire.lostCh), nil
}

func (c *stompConn) send(destination, contentType string, body []byte, headers map[string]string) error {
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	return c.session.Send(destination, contentType, body, opts...)
}

func (c *stompConn) lost() <-chan struct{} {
	return c.wire.lostCh
}

func (c *stompConn) err() error {
	if c.closing.Load() {
		return nil
	}
	return c.wire.lostErr()
}

// close sends DISCONNECT and waits a bounded time for the receipt before
// dropping the socket.
func (c *stompConn) close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-c.wire.lostCh:
		_ = c.wire.Close()
		return nil
	default:
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.session.Disconnect()
	}()
	t := time.NewTimer(disconnectWait)
	defer t.Stop()
	select {
	case <-done:
	case <-c.wire.lostCh:
	case <-t.C:
	}
	_ = c.wire.Close()
	return nil
}

// watchedConn reports the first read or write failure of the wrapped connection.
type watchedConn struct {
	net.Conn

	lostCh   chan struct{}
	lostOnce sync.Once
	mu       sync.Mutex
	cause    error
}

func newWatchedConn(c net.Conn) *watchedConn {
	return &watchedConn{Conn: c, lostCh: make(chan struct{})}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.markLost(err)
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil {
		w.markLost(err)
	}
	return n, err
}

func (w *watchedConn) Close() error {
	err := w.Conn.Close()
	w.markLost(nil)
	return err
}

func (w *watchedConn) markLost(err error) {
	w.lostOnce.Do(func() {
		w.mu.Lock()
		w.cause = err
		w.mu.Unlock()
		close(w.lostCh)
	})
}

func (w *watchedConn) lostErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cause == nil {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, w.cause)
}

type stompSubscription struct {
	sub  *stomp.Subscription
	out  chan Message
	lost <-chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func newStompSubscription(sub *stomp.Subscription, lost <-chan struct{}) *stompSubscription {
	s := &stompSubscription{
		sub:  sub,
		out:  make(chan Message, 16),
		lost: lost,
		stop: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stompSubscription) run() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case <-s.lost:
			return
		case m, ok := <-s.sub.C:
			if !ok || m.Err != nil {
				return
			}
			msg := Message{Destination: m.Destination, ContentType: m.ContentType, Body: m.Body}
			select {
			case s.out <- msg:
			case <-s.stop:
				return
			case <-s.lost:
				return
			}
		}
	}
}

func (s *stompSubscription) messages() <-chan Message {
	return s.out
}

func (s *stompSubscription) unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.lost:
		return nil
	default:
	}
	return s.sub.Unsubscribe()
}
