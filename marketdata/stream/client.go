package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tradeconsole/marketfeed/internal/ctxtime"
	"github.com/tradeconsole/marketfeed/internal/notify"
)

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// maxBackoffMultiplier caps how many times the reconnect delay is multiplied
// after consecutive failures.
const maxBackoffMultiplier = 10

// Client keeps one STOMP session to the market data broker alive and owns the
// channel subscriptions made over it.
//
// Connect starts the connection maintenance and blocks until the first attempt
// has finished. The connection is reestablished automatically after failures
// until Disconnect is called, the context passed to Connect is done or the
// configured number of consecutive failures is reached.
//
// Subscriptions do not survive a reconnect: they are cleared every time the
// connection ends and have to be made again from an OnConnected listener.
type Client struct {
	logger         Logger
	clock          clock.Clock
	baseURL        string
	login          string
	passcode       string
	reconnectLimit int
	reconnectDelay time.Duration
	heartbeat      time.Duration
	queueAddress   func(userID, channel string) string
	requestAddress func(channel string) string
	connCreator    connCreator

	connected    *notify.Notifier[struct{}]
	disconnected *notify.Notifier[error]

	mu      sync.Mutex
	state   State
	conn    conn
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[string]*subscription
}

// NewClient returns a new Client whose default configuration is modified by opts.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	o.apply(opts...)

	c := &Client{
		logger:         o.logger,
		clock:          o.clock,
		baseURL:        o.baseURL,
		login:          o.login,
		passcode:       o.passcode,
		reconnectLimit: o.reconnectLimit,
		reconnectDelay: o.reconnectDelay,
		heartbeat:      o.heartbeat,
		queueAddress:   o.queueAddress,
		requestAddress: o.requestAddress,
		connCreator:    o.connCreator,
		subs:           make(map[string]*subscription),
	}
	c.connected = notify.New[struct{}](c.listenerPanicked)
	c.disconnected = notify.New[error](c.listenerPanicked)
	if cb := o.connectCallback; cb != nil {
		c.OnConnected(cb)
	}
	if cb := o.disconnectCallback; cb != nil {
		c.OnDisconnected(cb)
	}
	return c
}

func (c *Client) listenerPanicked(r interface{}) {
	c.logger.Errorf("marketfeed: connection listener panicked: %v", r)
}

// OnConnected registers fn to run after every successful handshake.
func (c *Client) OnConnected(fn func()) (unsubscribe func()) {
	return c.connected.Subscribe(func(struct{}) { fn() })
}

// OnDisconnected registers fn to run every time an established connection
// ends. Subscriptions have already been cleared when fn runs. The error is nil
// when the connection was closed by Disconnect.
func (c *Client) OnDisconnected(fn func(error)) (unsubscribe func()) {
	return c.disconnected.Subscribe(fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client has a live broker session.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Connect starts maintaining the broker connection. It blocks until the first
// handshake succeeded or the first attempt failed and returns that attempt's
// error. Reconnection continues in the background either way.
//
// Calling Connect while the connection is maintained returns
// ErrConnectCalledMultipleTimes. After Disconnect returned, Connect may be
// called again.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.constructURL()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConnectCalledMultipleTimes
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	initialResultCh := make(chan error, 1)
	go c.maintainConnection(runCtx, u, initialResultCh, done)
	return <-initialResultCh
}

// Disconnect stops the connection maintenance, closes the session and clears
// every subscription. It must not be called from an OnConnected or
// OnDisconnected listener or from a subscription handler.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (c *Client) constructURL() (url.URL, error) {
	ub, err := url.Parse(c.baseURL)
	if err != nil {
		return url.URL{}, err
	}
	scheme := "wss"
	switch ub.Scheme {
	case "http", "ws":
		scheme = "ws"
	}
	return url.URL{Scheme: scheme, Host: ub.Host, Path: ub.Path, RawQuery: ub.RawQuery}, nil
}

func (c *Client) backoff(failedAttemptsInARow int) time.Duration {
	if failedAttemptsInARow > maxBackoffMultiplier {
		failedAttemptsInARow = maxBackoffMultiplier
	}
	return time.Duration(failedAttemptsInARow) * c.reconnectDelay
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// maintainConnection opens a session to u and reopens it whenever it ends, as
// long as reconnectLimit consecutive attempts don't fail. It sends the result
// of the first attempt to initialResultCh.
func (c *Client) maintainConnection(ctx context.Context, u url.URL, initialResultCh chan<- error, done chan<- struct{}) {
	var connError error
	var wait time.Duration
	failedAttemptsInARow := 0
	reported := false

	report := func(err error) {
		if !reported {
			reported = true
			initialResultCh <- err
		}
	}

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.state = Disconnected
		c.mu.Unlock()
		close(done)
	}()

	cfg := dialConfig{url: u, login: c.login, passcode: c.passcode, heartbeat: c.heartbeat}
	for {
		if ctx.Err() != nil {
			c.logger.Infof("marketfeed: connection maintenance stopped")
			if connError == nil {
				report(errors.New("cancelled before connection could be established"))
			} else {
				report(fmt.Errorf("cancelled before connection could be established, last error: %w", connError))
			}
			return
		}
		if c.reconnectLimit != 0 && failedAttemptsInARow >= c.reconnectLimit {
			c.logger.Errorf("marketfeed: max reconnect limit has been reached, last error: %v", connError)
			report(fmt.Errorf("max reconnect limit has been reached, last error: %w", connError))
			return
		}
		if err := ctxtime.Sleep(ctx, c.clock, wait); err != nil {
			continue
		}

		failedAttemptsInARow++
		c.setState(Connecting)
		c.logger.Infof("marketfeed: connecting to %s, attempt %d/%d ...", u.String(), failedAttemptsInARow, c.reconnectLimit)
		conn, err := c.connCreator(ctx, cfg)
		if err != nil {
			connError = err
			c.setState(Disconnected)
			c.logger.Warnf("marketfeed: failed to connect, error: %v", err)
			report(err)
			wait = c.backoff(failedAttemptsInARow)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = Connected
		c.mu.Unlock()
		c.logger.Infof("marketfeed: established connection")
		connError = nil
		failedAttemptsInARow = 0
		// Listeners have run by the time Connect returns.
		c.connected.Publish(struct{}{})
		report(nil)

		var lostErr error
		select {
		case <-conn.lost():
			lostErr = conn.err()
			if lostErr == nil {
				lostErr = ErrConnectionLost
			}
		case <-ctx.Done():
		}
		c.teardown(conn)

		if ctx.Err() != nil {
			c.logger.Infof("marketfeed: disconnected")
			c.disconnected.Publish(nil)
			return
		}
		c.logger.Warnf("marketfeed: connection lost, error: %v", lostErr)
		c.disconnected.Publish(lostErr)
		wait = c.reconnectDelay
	}
}

// teardown drops every subscription made over conn, waits for their handlers
// and closes conn.
func (c *Client) teardown(conn conn) {
	c.mu.Lock()
	c.conn = nil
	c.state = Disconnected
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	// A handler that is running finishes before the disconnect listeners run.
	for _, s := range subs {
		<-s.done
	}
	if err := conn.close(); err != nil {
		c.logger.Warnf("marketfeed: closing connection failed, error: %v", err)
	}
}
