// Package board keeps a user's quote board up to date. It wires the broker
// client, the throttler and the reconciler to the user's persisted watchlist.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tradeconsole/marketfeed/marketdata"
	"github.com/tradeconsole/marketfeed/marketdata/stream"
	"github.com/tradeconsole/marketfeed/watchlist"
)

const (
	// DefaultChannel is the logical channel quotes are published on.
	DefaultChannel = "quotes"
	// DefaultStalePruneInterval is how often stale quotes are looked for when
	// Opts.StaleAfter is set.
	DefaultStalePruneInterval = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running board.
	ErrAlreadyStarted = errors.New("board already started")
	// ErrClosed is returned by the operations of a closed board.
	ErrClosed = errors.New("board closed")
)

// Feed is the part of *stream.Client a board uses.
type Feed interface {
	OnConnected(fn func()) (unsubscribe func())
	OnDisconnected(fn func(error)) (unsubscribe func())
	Connected() bool
	SubscribeToChannel(channel, userID string, handler func(stream.Message)) error
	SendRequest(destination string, payload interface{}) error
}

var _ Feed = (*stream.Client)(nil)

// Opts configures a Board. Zero values fall back to the defaults.
type Opts struct {
	// Channel defaults to DefaultChannel.
	Channel string
	// RequestDestination receives the watched tokens. It defaults to
	// /app/<channel>/tokens.
	RequestDestination string
	ThrottleInterval   time.Duration
	FlagTTL            time.Duration
	// StaleAfter removes quotes that were not received for this long. Stale
	// quotes are kept when it is zero.
	StaleAfter time.Duration
	Clock      clock.Clock
	Logger     stream.Logger
}

type tokenRequest struct {
	UserID           string  `json:"userId"`
	InstrumentTokens []int64 `json:"instrumentTokens"`
}

// Board is the live quote board of one user.
type Board struct {
	feed    Feed
	store   watchlist.Store
	userID  string
	opts    Opts
	clock   clock.Clock
	logger  stream.Logger
	thr     *stream.Throttler[[]marketdata.InstrumentQuote]
	rec     *marketdata.Reconciler
	release []func()

	mu      sync.Mutex
	tokens  []int64
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a board for userID. Nothing happens before Start.
func New(feed Feed, store watchlist.Store, userID string, opts Opts) *Board {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.RequestDestination == "" {
		opts.RequestDestination = fmt.Sprintf("/app/%s/tokens", opts.Channel)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = stream.DefaultLogger()
	}

	b := &Board{
		feed:   feed,
		store:  store,
		userID: userID,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		stopCh: make(chan struct{}),
	}
	b.thr = stream.NewThrottler[[]marketdata.InstrumentQuote](stream.ThrottlerOpts{
		Interval: opts.ThrottleInterval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	})
	b.rec = marketdata.NewReconciler(marketdata.ReconcilerOpts{
		FlagTTL: opts.FlagTTL,
		Clock:   opts.Clock,
		Logger:  opts.Logger,
	})
	return b
}

// Start loads the watchlist and subscribes to the user's quotes on every
// connection. Errors of the store are returned as they are and leave the
// board unstarted.
func (b *Board) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}

	entries, err := b.store.GetWatchlist(ctx, b.userID)
	if err != nil {
		return err
	}
	b.tokens = watchlist.Tokens(entries)
	b.rec.SetWatchlist(b.tokens)
	b.started = true

	b.release = append(b.release,
		b.thr.OnMessage(func(batch []marketdata.InstrumentQuote) { b.rec.ApplyBatch(batch) }),
		b.feed.OnConnected(b.subscribe),
		b.feed.OnDisconnected(b.disconnected),
	)
	if b.opts.StaleAfter > 0 {
		b.wg.Add(1)
		go b.pruneStale()
	}

	if b.feed.Connected() {
		go b.subscribe()
	}
	return nil
}

func (b *Board) subscribe() {
	if err := b.feed.SubscribeToChannel(b.opts.Channel, b.userID, b.handle); err != nil {
		b.logger.Warnf("marketfeed: board of %s could not subscribe: %v", b.userID, err)
		return
	}
	b.mu.Lock()
	tokens := append([]int64(nil), b.tokens...)
	b.mu.Unlock()
	b.requestTokens(tokens)
}

func (b *Board) requestTokens(tokens []int64) {
	req := tokenRequest{UserID: b.userID, InstrumentTokens: tokens}
	if err := b.feed.SendRequest(b.opts.RequestDestination, req); err != nil {
		b.logger.Warnf("marketfeed: board of %s could not request tokens: %v", b.userID, err)
	}
}

func (b *Board) handle(msg stream.Message) {
	batch, err := marketdata.DecodeBatch(msg.ContentType, msg.Body)
	if err != nil {
		b.logger.Warnf("marketfeed: dropping payload from %s: %v", msg.Destination, err)
		return
	}
	if len(batch) == 0 {
		return
	}
	// Messages can still arrive for a closed board until the client drops the
	// subscription.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.thr.Ingest(batch)
}

func (b *Board) disconnected(error) {
	b.thr.Stop()
	b.rec.Reset()
}

func (b *Board) pruneStale() {
	defer b.wg.Done()
	interval := DefaultStalePruneInterval
	if b.opts.StaleAfter < interval {
		interval = b.opts.StaleAfter
	}
	ticker := b.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := b.rec.PruneStale(b.opts.StaleAfter); n > 0 {
				b.logger.Infof("marketfeed: pruned %d stale quotes", n)
			}
		case <-b.stopCh:
			return
		}
	}
}

// AddToWatchlist stores token in the user's watchlist and starts showing it.
// Errors of the store are returned as they are and leave the board unchanged.
func (b *Board) AddToWatchlist(ctx context.Context, token int64) error {
	if err := b.store.AddToWatchlist(ctx, b.userID, token); err != nil {
		return err
	}

	b.mu.Lock()
	if !containsToken(b.tokens, token) {
		b.tokens = append(b.tokens, token)
	}
	tokens := append([]int64(nil), b.tokens...)
	b.mu.Unlock()

	b.rec.AddToken(token)
	b.resend(tokens)
	return nil
}

// RemoveFromWatchlist deletes token from the user's watchlist and stops
// showing it. Errors of the store are returned as they are and leave the
// board unchanged.
func (b *Board) RemoveFromWatchlist(ctx context.Context, token int64) error {
	if err := b.store.RemoveFromWatchlist(ctx, b.userID, token); err != nil {
		return err
	}

	b.mu.Lock()
	kept := b.tokens[:0]
	for _, t := range b.tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	b.tokens = kept
	tokens := append([]int64(nil), b.tokens...)
	b.mu.Unlock()

	b.rec.RemoveToken(token)
	b.resend(tokens)
	return nil
}

func (b *Board) resend(tokens []int64) {
	if b.feed.Connected() {
		b.requestTokens(tokens)
	}
}

// Tokens returns the watched tokens in watchlist order.
func (b *Board) Tokens() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.tokens...)
}

// Visible returns the quotes of the watched tokens in watchlist order.
func (b *Board) Visible() []marketdata.InstrumentQuote {
	return b.rec.Visible()
}

// Flags returns the currently raised change flags.
func (b *Board) Flags() map[marketdata.Token]marketdata.FieldFlags {
	return b.rec.ActiveFlags()
}

// Stats returns the throttling counters.
func (b *Board) Stats() stream.ThrottleStats {
	return b.thr.Stats()
}

// OnUpdate registers fn to be called whenever the board changes.
func (b *Board) OnUpdate(fn func(marketdata.Update)) (unsubscribe func()) {
	return b.rec.OnChange(fn)
}

// Close detaches the board from the feed and stops its timers. Pending flag
// clears are cancelled without notifying OnUpdate listeners. The subscription
// on the broker is left to the client, messages arriving on it are ignored.
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	release := b.release
	b.release = nil
	close(b.stopCh)
	b.mu.Unlock()

	for _, fn := range release {
		fn()
	}
	b.thr.Stop()
	b.rec.StopTimers()
	b.wg.Wait()
}

func containsToken(tokens []int64, token int64) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}
