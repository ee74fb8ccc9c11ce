package stream

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tradeconsole/marketfeed/internal/authn"
)

const userAgent = "marketfeed-go"

// Option is a configuration option for the Client
type Option interface {
	apply(*options)
}

type options struct {
	logger             Logger
	clock              clock.Clock
	baseURL            string
	login              string
	passcode           string
	reconnectLimit     int
	reconnectDelay     time.Duration
	heartbeat          time.Duration
	queueAddress       func(userID, channel string) string
	requestAddress     func(channel string) string
	connectCallback    func()
	disconnectCallback func(error)

	// for testing only
	connCreator connCreator
}

type funcOption struct {
	f func(*options)
}

func (fo *funcOption) apply(o *options) {
	fo.f(o)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// WithLogger configures the logger
func WithLogger(logger Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithClock configures the clock used for reconnect delays
func WithClock(c clock.Clock) Option {
	return newFuncOption(func(o *options) {
		o.clock = c
	})
}

// WithBaseURL configures the broker's websocket endpoint
func WithBaseURL(url string) Option {
	return newFuncOption(func(o *options) {
		o.baseURL = url
	})
}

// WithCredentials configures the STOMP login and passcode
func WithCredentials(login, passcode string) Option {
	return newFuncOption(func(o *options) {
		if login != "" {
			o.login = login
		}
		if passcode != "" {
			o.passcode = passcode
		}
	})
}

// WithReconnectSettings configures how many consecutive connection errors
// should be accepted and the delay between retries. The delay is multiplied by the
// number of consecutive errors, up to 10 times. limit = 0 means the client
// reconnects indefinitely.
func WithReconnectSettings(limit int, delay time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.reconnectLimit = limit
		o.reconnectDelay = delay
	})
}

// WithHeartbeat configures the outgoing heartbeat interval. 0 disables
// heartbeats. Heartbeats from the broker are never required.
func WithHeartbeat(interval time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.heartbeat = interval
	})
}

// WithQueueAddress configures how the per-user queue address of a channel is built
func WithQueueAddress(f func(userID, channel string) string) Option {
	return newFuncOption(func(o *options) {
		o.queueAddress = f
	})
}

// WithRequestAddress configures the destination a channel's subscription request
// is sent to
func WithRequestAddress(f func(channel string) string) Option {
	return newFuncOption(func(o *options) {
		o.requestAddress = f
	})
}

// WithConnectCallback registers a callback that runs after every successful
// handshake. It is equivalent to calling OnConnected before Connect.
func WithConnectCallback(callback func()) Option {
	return newFuncOption(func(o *options) {
		o.connectCallback = callback
	})
}

// WithDisconnectCallback registers a callback that runs every time an
// established connection ends. The error is nil after Disconnect.
func WithDisconnectCallback(callback func(error)) Option {
	return newFuncOption(func(o *options) {
		o.disconnectCallback = callback
	})
}

func withConnCreator(creator connCreator) Option {
	return newFuncOption(func(o *options) {
		o.connCreator = creator
	})
}

// DefaultQueueAddress returns the per-user queue of channel.
func DefaultQueueAddress(userID, channel string) string {
	return "/user/" + userID + "/queue/" + channel
}

// DefaultRequestAddress returns the destination subscription requests for
// channel are sent to.
func DefaultRequestAddress(channel string) string {
	return "/app/" + channel + "/subscribe"
}

// defaultOptions are the default options for a client.
func defaultOptions() *options {
	baseURL := "ws://localhost:8080/ws"
	if s := os.Getenv("FEED_BROKER_URL"); s != "" {
		baseURL = s
	}

	creds := authn.CredentialsFromEnv()
	return &options{
		logger:         DefaultLogger(),
		clock:          clock.New(),
		baseURL:        baseURL,
		login:          creds.BrokerLogin,
		passcode:       creds.BrokerPasscode,
		reconnectLimit: 0,
		reconnectDelay: 3 * time.Second,
		heartbeat:      10 * time.Second,
		queueAddress:   DefaultQueueAddress,
		requestAddress: DefaultRequestAddress,
		connCreator:    newStompConn,
	}
}

func (o *options) apply(opts ...Option) {
	for _, opt := range opts {
		opt.apply(o)
	}
}
