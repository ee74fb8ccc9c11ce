package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedClient(t *testing.T, conns ...*mockConn) *Client {
	t.Helper()
	c := newTestClient(&connSequence{conns: conns})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func noopHandler(Message) {}

func TestSubscribeToChannel(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))

	assert.Equal(t, []string{"/user/u1/queue/quotes"}, connection.subscribedTo())
	sent := connection.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, "/app/quotes/subscribe", sent[0].destination)
	assert.Equal(t, "application/json", sent[0].contentType)
	assert.JSONEq(t, `{"userId":"u1"}`, string(sent[0].body))
	assert.NotEmpty(t, sent[0].headers["request-id"])

	assert.Equal(t, []Subscription{
		{Channel: "quotes", UserID: "u1", Destination: "/user/u1/queue/quotes"},
	}, c.Subscriptions())
}

func TestSubscribeToChannelIdempotent(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))

	assert.Len(t, connection.subscribedTo(), 1)
	assert.Len(t, connection.sentFrames(), 1)
}

func TestSubscribeToChannelDifferentUser(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	require.NoError(t, c.SubscribeToChannel("quotes", "u2", noopHandler))

	assert.Equal(t, []string{"/user/u1/queue/quotes", "/user/u2/queue/quotes"}, connection.subscribedTo())
	assert.Equal(t, []string{"/user/u1/queue/quotes"}, connection.unsubscribedFrom())
	assert.Len(t, connection.sentFrames(), 2)
	assert.Equal(t, []Subscription{
		{Channel: "quotes", UserID: "u2", Destination: "/user/u2/queue/quotes"},
	}, c.Subscriptions())
}

func TestSubscribeToChannelNotConnected(t *testing.T) {
	c := newTestClient(&connSequence{})

	err := c.SubscribeToChannel("quotes", "u1", noopHandler)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Subscriptions())
}

func TestSubscribeToChannelRequestFails(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)
	connection.sendErr = errors.New("write failed")

	err := c.SubscribeToChannel("quotes", "u1", noopHandler)
	require.Error(t, err)
	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, []string{"/user/u1/queue/quotes"}, connection.unsubscribedFrom())

	// Nothing blocks the retry.
	connection.mu.Lock()
	connection.sendErr = nil
	connection.mu.Unlock()
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	assert.Len(t, c.Subscriptions(), 1)
}

func TestSubscribeToChannelSubscribeFails(t *testing.T) {
	connection := newMockConn()
	connection.subscribeErr = errors.New("denied")
	c := connectedClient(t, connection)

	err := c.SubscribeToChannel("quotes", "u1", noopHandler)
	require.Error(t, err)
	assert.Empty(t, c.Subscriptions())
	assert.Empty(t, connection.sentFrames())
}

func TestReconnectClearsGuards(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	c := connectedClient(t, first, second)
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))

	reconnected := make(chan struct{}, 1)
	c.OnConnected(func() { reconnected <- struct{}{} })
	first.drop(errors.New("socket closed"))

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.Empty(t, c.Subscriptions())

	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	assert.Equal(t, []string{"/user/u1/queue/quotes"}, second.subscribedTo())
	assert.Len(t, second.sentFrames(), 1)
}

func TestSubscriptionDispatch(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	var (
		mu     sync.Mutex
		bodies []string
	)
	handler := func(m Message) {
		if string(m.Body) == "boom" {
			panic("handler bug")
		}
		mu.Lock()
		defer mu.Unlock()
		bodies = append(bodies, string(m.Body))
	}
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", handler))

	require.True(t, connection.publish("/user/u1/queue/quotes", "first"))
	require.True(t, connection.publish("/user/u1/queue/quotes", "boom"))
	require.True(t, connection.publish("/user/u1/queue/quotes", "second"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, bodies)
	mu.Unlock()
}

func TestUnsubscribeAll(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	require.NoError(t, c.SubscribeToChannel("depth", "u1", noopHandler))
	assert.Equal(t, []string{"depth", "quotes"}, []string{c.Subscriptions()[0].Channel, c.Subscriptions()[1].Channel})

	c.UnsubscribeAll()
	assert.Empty(t, c.Subscriptions())
	assert.ElementsMatch(t, []string{"/user/u1/queue/quotes", "/user/u1/queue/depth"}, connection.unsubscribedFrom())
}

func TestSendRequest(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	payload := map[string]interface{}{"userId": "u1", "instrumentTokens": []int64{1, 2}}
	require.NoError(t, c.SendRequest("/app/quotes/tokens", payload))

	sent := connection.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, "/app/quotes/tokens", sent[0].destination)
	assert.JSONEq(t, `{"userId":"u1","instrumentTokens":[1,2]}`, string(sent[0].body))
}

func TestSendRequestNotConnected(t *testing.T) {
	c := newTestClient(&connSequence{})
	assert.ErrorIs(t, c.SendRequest("/app/quotes/tokens", map[string]string{}), ErrNotConnected)
}

func TestSendRequestUnencodable(t *testing.T) {
	connection := newMockConn()
	c := connectedClient(t, connection)

	err := c.SendRequest("/app/x", map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, connection.sentFrames())
}

func TestCustomAddresses(t *testing.T) {
	connection := newMockConn()
	c := newTestClient(&connSequence{conns: []*mockConn{connection}},
		WithQueueAddress(func(userID, channel string) string { return "/queue/" + channel + "." + userID }),
		WithRequestAddress(func(channel string) string { return "/app/subscribe/" + channel }),
	)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.NoError(t, c.SubscribeToChannel("quotes", "u1", noopHandler))
	assert.Equal(t, []string{"/queue/quotes.u1"}, connection.subscribedTo())
	assert.Equal(t, "/app/subscribe/quotes", connection.sentFrames()[0].destination)
}

func TestTeardownWaitsForRunningHandler(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	c := connectedClient(t, first, second)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, event)
	}
	entered := make(chan struct{})
	gate := make(chan struct{})
	handler := func(Message) {
		close(entered)
		<-gate
		record("handler")
	}
	require.NoError(t, c.SubscribeToChannel("quotes", "u1", handler))
	c.OnDisconnected(func(error) { record("disconnected") })

	require.True(t, first.publish("/user/u1/queue/quotes", "batch"))
	<-entered
	first.drop(errors.New("socket closed"))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	close(gate)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"handler", "disconnected"}, order)
	mu.Unlock()
}
