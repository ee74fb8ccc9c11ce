package stream

import (
	"context"
	"errors"
	"sync"
)

var errClose = errors.New("closed")

type sentFrame struct {
	destination string
	contentType string
	body        []byte
	headers     map[string]string
}

type mockConn struct {
	mu           sync.Mutex
	subs         map[string]*mockSubscription
	subscribed   []string
	unsubscribed []string
	sent         []sentFrame
	subscribeErr error
	sendErr      error

	lostCh    chan struct{}
	lostOnce  sync.Once
	lostErr   error
	closeCh   chan struct{}
	closeOnce sync.Once
}

var _ conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{
		subs:    make(map[string]*mockSubscription),
		lostCh:  make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

func (c *mockConn) subscribe(destination string) (brokerSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	sub := &mockSubscription{conn: c, destination: destination, ch: make(chan Message, 10)}
	c.subs[destination] = sub
	c.subscribed = append(c.subscribed, destination)
	return sub, nil
}

func (c *mockConn) send(destination, contentType string, body []byte, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	select {
	case <-c.lostCh:
		return errClose
	default:
	}
	c.sent = append(c.sent, sentFrame{destination: destination, contentType: contentType, body: body, headers: headers})
	return nil
}

func (c *mockConn) lost() <-chan struct{} {
	return c.lostCh
}

func (c *mockConn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

func (c *mockConn) close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	c.drop(nil)
	return nil
}

// drop simulates the broker going away.
func (c *mockConn) drop(err error) {
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.lostErr = err
		c.mu.Unlock()
		close(c.lostCh)
	})
}

// publish delivers msg on the subscription of destination.
func (c *mockConn) publish(destination string, body string) bool {
	c.mu.Lock()
	sub, ok := c.subs[destination]
	c.mu.Unlock()
	if !ok {
		return false
	}
	sub.ch <- Message{Destination: destination, ContentType: contentTypeJSON, Body: []byte(body)}
	return true
}

func (c *mockConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *mockConn) subscribedTo() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *mockConn) unsubscribedFrom() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func (c *mockConn) sentFrames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

type mockSubscription struct {
	conn        *mockConn
	destination string
	ch          chan Message
}

func (s *mockSubscription) messages() <-chan Message {
	return s.ch
}

func (s *mockSubscription) unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.subs, s.destination)
	s.conn.unsubscribed = append(s.conn.unsubscribed, s.destination)
	return nil
}

// connSequence hands out the given conns in order, then fails.
type connSequence struct {
	mu       sync.Mutex
	conns    []*mockConn
	errs     []error
	attempts int
}

func (s *connSequence) creator(_ context.Context, _ dialConfig) (conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts
	s.attempts++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.conns) && s.conns[i] != nil {
		return s.conns[i], nil
	}
	return nil, errors.New("no more connections")
}

func (s *connSequence) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
