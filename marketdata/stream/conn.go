package stream

import (
	"context"
	"net/url"
	"time"
)

// Message is a single message delivered to a channel subscription.
type Message struct {
	Destination string
	ContentType string
	Body        []byte
}

// conn represents a STOMP session with the broker
type conn interface {
	// subscribe subscribes to destination
	subscribe(destination string) (brokerSubscription, error)
	// send publishes body to destination
	send(destination, contentType string, body []byte, headers map[string]string) error
	// lost is closed when the session ends for any reason
	lost() <-chan struct{}
	// err returns the reason the session ended, if any
	err() error
	// close ends the session
	close() error
}

// brokerSubscription is a subscription on the broker side
type brokerSubscription interface {
	// messages is closed when the subscription or the session ends
	messages() <-chan Message
	unsubscribe() error
}

// dialConfig holds everything needed to open a session
type dialConfig struct {
	url       url.URL
	login     string
	passcode  string
	heartbeat time.Duration
}

type connCreator func(ctx context.Context, cfg dialConfig) (conn, error)

var (
	dialTimeout      = 5 * time.Second // Time allowed for the websocket upgrade
	handshakeTimeout = 5 * time.Second // Time allowed to receive the CONNECTED frame
	disconnectWait   = 2 * time.Second // Time allowed for the DISCONNECT receipt
)
