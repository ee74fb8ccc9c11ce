package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/tradeconsole/marketfeed/internal/notify"
	"github.com/tradeconsole/marketfeed/marketdata/stream"
)

// DefaultFlagTTL is how long a change flag stays active.
const DefaultFlagTTL = 300 * time.Millisecond

// ReconcilerOpts configures a Reconciler. Zero values fall back to the defaults.
type ReconcilerOpts struct {
	// FlagTTL is the lifetime of a change flag.
	FlagTTL time.Duration
	// PriceEpsilon is the threshold a price move must exceed to be flagged.
	PriceEpsilon decimal.Decimal
	// Clock schedules the flag clears. Defaults to the wall clock.
	Clock clock.Clock
	// Logger reports panicking OnChange listeners. Defaults to stream.DefaultLogger.
	Logger stream.Logger
}

// Update is published to OnChange listeners whenever the reconciled view changes.
type Update struct {
	// Changes holds the flags raised by ApplyBatch. Nil for other updates.
	Changes Changeset
	// Cleared lists the flags whose TTL expired.
	Cleared []ChangeFlag
	// Visible is the visible set after the change.
	Visible []InstrumentQuote
}

type storedQuote struct {
	quote    InstrumentQuote
	lastSeen time.Time
}

type flagKey struct {
	token Token
	field Field
}

type activeFlag struct {
	direction Direction
	timer     *clock.Timer
	gen       uint64
}

// Reconciler merges quote batches into a keyed store, computes directional
// change flags and filters the store through the watchlist.
type Reconciler struct {
	clock    clock.Clock
	flagTTL  time.Duration
	epsilon  decimal.Decimal
	notifier *notify.Notifier[Update]

	mu      sync.Mutex
	store   map[Token]storedQuote
	watch   map[Token]int
	nextPos int
	visible []InstrumentQuote
	flags   map[flagKey]*activeFlag
	gen     uint64
}

// NewReconciler creates a Reconciler with an empty store and watchlist.
func NewReconciler(opts ReconcilerOpts) *Reconciler {
	if opts.FlagTTL <= 0 {
		opts.FlagTTL = DefaultFlagTTL
	}
	if !opts.PriceEpsilon.IsPositive() {
		opts.PriceEpsilon = DefaultPriceEpsilon
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = stream.DefaultLogger()
	}
	logger := opts.Logger
	onPanic := func(r interface{}) {
		logger.Errorf("marketfeed: reconciler listener panicked: %v", r)
	}
	return &Reconciler{
		clock:    opts.Clock,
		flagTTL:  opts.FlagTTL,
		epsilon:  opts.PriceEpsilon,
		notifier: notify.New[Update](onPanic),
		store:    make(map[Token]storedQuote),
		watch:    make(map[Token]int),
		flags:    make(map[flagKey]*activeFlag),
	}
}

// OnChange registers fn to be called after every change of the reconciled view.
// Listeners run synchronously, so the flags of an ApplyBatch call have been
// delivered by the time it returns.
func (r *Reconciler) OnChange(fn func(Update)) (unsubscribe func()) {
	return r.notifier.Subscribe(fn)
}

// ApplyBatch merges the batch into the store and returns the raised flags.
//
// Every quote replaces the stored quote of its token. Known watched tokens are
// compared with their previous value first, a first sighting never raises a
// flag and neither does a token that is not watched. Tokens missing from the
// batch are left as they are.
func (r *Reconciler) ApplyBatch(batch []InstrumentQuote) Changeset {
	if len(batch) == 0 {
		return nil
	}

	r.mu.Lock()
	now := r.clock.Now()
	var changes Changeset
	for _, q := range batch {
		if q.Token == 0 {
			continue
		}
		prev, known := r.store[q.Token]
		r.store[q.Token] = storedQuote{quote: q, lastSeen: now}
		if !known {
			continue
		}
		if _, watched := r.watch[q.Token]; !watched {
			continue
		}
		ff := diffQuotes(prev.quote, q, r.epsilon)
		if ff == nil {
			continue
		}
		if changes == nil {
			changes = make(Changeset)
		}
		// A token can appear several times in one batch; later moves win.
		merged, ok := changes[q.Token]
		if !ok {
			merged = make(FieldFlags, len(ff))
			changes[q.Token] = merged
		}
		for field, dir := range ff {
			merged[field] = dir
			r.raiseFlagLocked(flagKey{token: q.Token, field: field}, dir)
		}
	}
	r.recomputeVisibleLocked()
	update := Update{Changes: changes, Visible: r.visibleCopyLocked()}
	r.mu.Unlock()

	r.notifier.Publish(update)
	return changes
}

// raiseFlagLocked activates a flag and (re)starts its clear timer.
func (r *Reconciler) raiseFlagLocked(key flagKey, dir Direction) {
	r.gen++
	gen := r.gen
	if f, ok := r.flags[key]; ok {
		f.timer.Stop()
	}
	r.flags[key] = &activeFlag{
		direction: dir,
		gen:       gen,
		timer: r.clock.AfterFunc(r.flagTTL, func() {
			r.expireFlag(key, gen)
		}),
	}
}

func (r *Reconciler) expireFlag(key flagKey, gen uint64) {
	r.mu.Lock()
	f, ok := r.flags[key]
	if !ok || f.gen != gen {
		// Restarted or cancelled in the meantime.
		r.mu.Unlock()
		return
	}
	delete(r.flags, key)
	update := Update{
		Cleared: []ChangeFlag{{Token: key.token, Field: key.field, Direction: f.direction}},
		Visible: r.visibleCopyLocked(),
	}
	r.mu.Unlock()

	r.notifier.Publish(update)
}

// SetWatchlist replaces the watchlist. The order of tokens is the display order
// of the visible set. Flags of tokens that are no longer watched are cancelled.
func (r *Reconciler) SetWatchlist(tokens []Token) {
	r.mu.Lock()
	watch := make(map[Token]int, len(tokens))
	pos := 0
	for _, t := range tokens {
		if _, dup := watch[t]; dup {
			continue
		}
		watch[t] = pos
		pos++
	}
	for t := range r.watch {
		if _, ok := watch[t]; !ok {
			r.cancelFlagsLocked(t)
		}
	}
	r.watch = watch
	r.nextPos = pos
	r.recomputeVisibleLocked()
	update := Update{Visible: r.visibleCopyLocked()}
	r.mu.Unlock()

	r.notifier.Publish(update)
}

// AddToken appends token to the watchlist. Adding a watched token is a no-op.
func (r *Reconciler) AddToken(token Token) {
	r.mu.Lock()
	if _, ok := r.watch[token]; ok {
		r.mu.Unlock()
		return
	}
	r.watch[token] = r.nextPos
	r.nextPos++
	r.recomputeVisibleLocked()
	update := Update{Visible: r.visibleCopyLocked()}
	r.mu.Unlock()

	r.notifier.Publish(update)
}

// RemoveToken removes token from the watchlist. The quote disappears from the
// visible set immediately but stays in the store, and its pending flag clears
// are cancelled.
func (r *Reconciler) RemoveToken(token Token) {
	r.mu.Lock()
	if _, ok := r.watch[token]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.watch, token)
	r.cancelFlagsLocked(token)
	r.recomputeVisibleLocked()
	update := Update{Visible: r.visibleCopyLocked()}
	r.mu.Unlock()

	r.notifier.Publish(update)
}

// Watching reports whether token is on the watchlist.
func (r *Reconciler) Watching(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watch[token]
	return ok
}

func (r *Reconciler) cancelFlagsLocked(token Token) {
	for _, field := range TrackedFields {
		key := flagKey{token: token, field: field}
		if f, ok := r.flags[key]; ok {
			f.timer.Stop()
			delete(r.flags, key)
		}
	}
}

func (r *Reconciler) recomputeVisibleLocked() {
	visible := make([]InstrumentQuote, 0, len(r.watch))
	for token := range r.watch {
		if s, ok := r.store[token]; ok {
			visible = append(visible, s.quote)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return r.watch[visible[i].Token] < r.watch[visible[j].Token]
	})
	r.visible = visible
}

func (r *Reconciler) visibleCopyLocked() []InstrumentQuote {
	out := make([]InstrumentQuote, len(r.visible))
	copy(out, r.visible)
	return out
}

// Visible returns the watched quotes in watchlist order.
func (r *Reconciler) Visible() []InstrumentQuote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleCopyLocked()
}

// Quote returns the stored quote of token, whether it is watched or not.
func (r *Reconciler) Quote(token Token) (InstrumentQuote, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.store[token]
	return s.quote, ok
}

// ActiveFlags returns the flags whose TTL has not expired yet.
func (r *Reconciler) ActiveFlags() map[Token]FieldFlags {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Token]FieldFlags)
	for key, f := range r.flags {
		ff, ok := out[key.token]
		if !ok {
			ff = make(FieldFlags)
			out[key.token] = ff
		}
		ff[key.field] = f.direction
	}
	return out
}

// Len returns the number of quotes in the store.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store)
}

// Reset clears the store and the flags and cancels every pending flag clear.
// The watchlist is kept.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	for key, f := range r.flags {
		f.timer.Stop()
		delete(r.flags, key)
	}
	r.store = make(map[Token]storedQuote)
	r.visible = nil
	r.mu.Unlock()

	r.notifier.Publish(Update{Visible: []InstrumentQuote{}})
}

// StopTimers cancels every pending flag clear and drops the active flags
// without notifying listeners. The store and the watchlist are kept.
func (r *Reconciler) StopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, f := range r.flags {
		f.timer.Stop()
		delete(r.flags, key)
	}
}

// PruneStale removes the quotes that have not been part of a batch for maxAge
// and returns how many were removed.
func (r *Reconciler) PruneStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.clock.Now().Add(-maxAge)
	removed := 0
	for token, s := range r.store {
		if s.lastSeen.Before(cutoff) {
			delete(r.store, token)
			r.cancelFlagsLocked(token)
			removed++
		}
	}
	if removed == 0 {
		r.mu.Unlock()
		return 0
	}
	r.recomputeVisibleLocked()
	update := Update{Visible: r.visibleCopyLocked()}
	r.mu.Unlock()

	r.notifier.Publish(update)
	return removed
}
