package stream

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/benbjohnson/clock"

	"github.com/tradeconsole/marketfeed/internal/notify"
)

const (
	// DefaultThrottleInterval is the default dispatch cadence of a Throttler.
	DefaultThrottleInterval = time.Second
	defaultStatsWindow      = 60
)

// ThrottlerOpts configures a Throttler. Zero values fall back to the defaults.
type ThrottlerOpts struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   Logger
	// StatsWindow is the number of deliveries the moving average in Stats covers.
	StatsWindow int
}

// ThrottleStats are counters of a Throttler.
type ThrottleStats struct {
	Ingested  uint64
	Delivered uint64
	// Coalesced counts messages that were overwritten before delivery.
	Coalesced uint64
	// AvgBatch is the moving average of messages ingested per delivery.
	AvgBatch float64
}

// Throttler delivers the most recently ingested message once per interval.
//
// There is no queue: a message that is overwritten before the next tick is
// never delivered. Ticks without a pending message deliver nothing. The ticker
// starts with the first Ingest and runs until Stop.
type Throttler[T any] struct {
	interval time.Duration
	clock    clock.Clock
	logger   Logger
	notifier *notify.Notifier[T]

	mu         sync.Mutex
	pending    T
	hasPending bool
	sinceLast  int
	ticker     *clock.Ticker
	stopCh     chan struct{}
	gen        uint64
	stats      ThrottleStats
	avg        *movingaverage.MovingAverage
}

// NewThrottler creates a stopped Throttler.
func NewThrottler[T any](opts ThrottlerOpts) *Throttler[T] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultThrottleInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = defaultStatsWindow
	}
	t := &Throttler[T]{
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		avg:      movingaverage.New(opts.StatsWindow),
	}
	t.notifier = notify.New[T](func(r interface{}) {
		t.logger.Errorf("marketfeed: throttled subscriber panicked: %v", r)
	})
	return t
}

// OnMessage registers fn to receive the throttled messages.
func (t *Throttler[T]) OnMessage(fn func(T)) (unsubscribe func()) {
	return t.notifier.Subscribe(fn)
}

// Ingest stores msg as the pending message, replacing any message that has not
// been delivered yet. It never blocks.
func (t *Throttler[T]) Ingest(msg T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasPending {
		t.stats.Coalesced++
	}
	t.pending = msg
	t.hasPending = true
	t.sinceLast++
	t.stats.Ingested++

	if t.ticker == nil {
		t.ticker = t.clock.Ticker(t.interval)
		t.stopCh = make(chan struct{})
		go t.run(t.ticker, t.stopCh, t.gen)
	}
}

func (t *Throttler[T]) run(tk *clock.Ticker, stopCh <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stopCh:
			return
		case <-tk.C:
			t.tick(gen)
		}
	}
}

// tick delivers the pending message, if any, unless the throttler was stopped
// after the ticker of gen was started.
func (t *Throttler[T]) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.hasPending {
		t.mu.Unlock()
		return
	}
	msg := t.pending
	var zero T
	t.pending = zero
	t.hasPending = false
	t.avg.Add(float64(t.sinceLast))
	t.sinceLast = 0
	t.stats.Delivered++
	t.mu.Unlock()

	t.notifier.Publish(msg)
}

// Stop stops the ticker and drops the pending message. No tick takes a
// message after Stop returns. A later Ingest starts a new ticker.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopCh)
		t.ticker = nil
		t.stopCh = nil
	}
	var zero T
	t.pending = zero
	t.hasPending = false
	t.sinceLast = 0
}

// Pending reports whether a message waits for the next tick.
func (t *Throttler[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending
}

// Running reports whether the ticker is running.
func (t *Throttler[T]) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker != nil
}

// Stats returns a snapshot of the counters.
func (t *Throttler[T]) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	if t.avg.Count() > 0 {
		s.AvgBatch = t.avg.Avg()
	}
	return s
}
