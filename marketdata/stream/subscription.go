package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const contentTypeJSON = "application/json"

// Subscription describes an active channel subscription.
type Subscription struct {
	Channel     string
	UserID      string
	Destination string
}

type subscription struct {
	Subscription

	handle   brokerSubscription
	handler  func(Message)
	stopCh   chan struct{}
	stopOnce sync.Once
	// done is closed when dispatch has returned.
	done chan struct{}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

type subscribeRequest struct {
	UserID string `json:"userId"`
}

// SubscribeToChannel subscribes to the per-user queue of channel and asks the
// broker to start publishing to it. Every message received on the queue is
// passed to handler on a goroutine owned by the subscription.
//
// The call is idempotent: while a subscription of channel for userID is
// active, further calls do nothing. A subscription of channel for a different
// user is replaced. All subscriptions are cleared when the connection ends.
func (c *Client) SubscribeToChannel(channel, userID string, handler func(Message)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warnf("marketfeed: not connected, can not subscribe to %s for %s", channel, userID)
		return ErrNotConnected
	}
	if existing, ok := c.subs[channel]; ok {
		if existing.UserID == userID {
			return nil
		}
		c.logger.Infof("marketfeed: replacing subscription of %s for %s with %s", channel, existing.UserID, userID)
		c.removeLocked(existing)
	}

	destination := c.queueAddress(userID, channel)
	handle, err := c.conn.subscribe(destination)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", destination, err)
	}
	s := &subscription{
		Subscription: Subscription{Channel: channel, UserID: userID, Destination: destination},
		handle:       handle,
		handler:      handler,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.subs[channel] = s
	go c.dispatch(s)

	if err := c.sendLocked(c.requestAddress(channel), subscribeRequest{UserID: userID}); err != nil {
		// Without the request nothing is published to the queue, so the next
		// call has to start over.
		c.removeLocked(s)
		return err
	}
	c.logger.Infof("marketfeed: subscribed to %s", destination)
	return nil
}

// SendRequest publishes payload as JSON to destination. When there is no
// connection the request is dropped and ErrNotConnected is returned; it is
// never queued.
func (c *Client) SendRequest(destination string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warnf("marketfeed: not connected, dropping request to %s", destination)
		return ErrNotConnected
	}
	return c.sendLocked(destination, payload)
}

func (c *Client) sendLocked(destination string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request to %s: %w", destination, err)
	}
	headers := map[string]string{"request-id": uuid.NewString()}
	if err := c.conn.send(destination, contentTypeJSON, body, headers); err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Subscriptions returns the active subscriptions ordered by channel.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s.Subscription)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// UnsubscribeAll ends every active subscription.
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		c.removeLocked(s)
	}
}

func (c *Client) removeLocked(s *subscription) {
	delete(c.subs, s.Channel)
	s.stop()
	if err := s.handle.unsubscribe(); err != nil {
		c.logger.Warnf("marketfeed: unsubscribing from %s failed, error: %v", s.Destination, err)
	}
}

// dispatch passes the messages of s to its handler until s is stopped.
func (c *Client) dispatch(s *subscription) {
	defer close(s.done)
	msgs := s.handle.messages()
	for {
		select {
		case <-s.stopCh:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			c.deliver(s, msg)
		}
	}
}

func (c *Client) deliver(s *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("marketfeed: handler of %s panicked: %v", s.Channel, r)
		}
	}()
	s.handler(msg)
}
