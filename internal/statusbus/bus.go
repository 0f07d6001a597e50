package statusbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/diprog/systemd-panel/internal/systemd"
)

// Snapshot is one point-in-time view of every managed unit, ordered by name.
// The bus treats it as an opaque immutable value.
type Snapshot []systemd.UnitStatus

// Provider computes a fresh snapshot on demand. Implementations tolerate
// per-unit failures internally; an error is only expected on cancellation.
type Provider interface {
	Snapshot(ctx context.Context) ([]systemd.UnitStatus, error)
}

// DefaultInterval is the fallback refresh cadence when no trigger arrives.
const DefaultInterval = 1500 * time.Millisecond

// Config configures a Bus.
type Config struct {
	Provider Provider
	Interval time.Duration
	Logger   *slog.Logger
	// OnRefresh, when set, observes every snapshot computation and whether
	// it failed. Used to feed the metrics recorder.
	OnRefresh func(failed bool)
}

// Bus polls the provider on a timer or explicit trigger and fans snapshots
// out to subscribers. Each subscriber owns a single-slot mailbox: a slow
// reader only ever costs itself intermediate snapshots, never the producer
// or its peers.
type Bus struct {
	provider  Provider
	interval  time.Duration
	logger    *slog.Logger
	onRefresh func(bool)

	trigger chan struct{}

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New initialises a stopped Bus using the provided configuration.
func New(cfg Config) *Bus {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onRefresh := cfg.OnRefresh
	if onRefresh == nil {
		onRefresh = func(bool) {}
	}
	return &Bus{
		provider:  cfg.Provider,
		interval:  interval,
		logger:    logger,
		onRefresh: onRefresh,
		trigger:   make(chan struct{}, 1),
		subs:      make(map[*Subscription]struct{}),
	}
}

// Start launches the producer loop. Starting a running bus is a no-op.
func (b *Bus) Start() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
}

// Stop cancels the producer loop and waits for it to exit. Stopping a
// stopped bus is a no-op.
func (b *Bus) Stop() {
	b.lifecycle.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger requests an immediate refresh without waiting for the fallback
// interval. It never blocks; coincident triggers coalesce into one wake.
func (b *Bus) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Subscribe registers a new single-slot mailbox and deposits a freshly
// computed snapshot into it, so the stream has data before the next tick.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{bus: b, mailbox: make(chan Snapshot, 1)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	snapshot, err := b.refresh(ctx)
	if err != nil {
		snapshot = Snapshot{}
	}
	b.depositIfEmpty(sub, snapshot)
	return sub
}

func (b *Bus) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.trigger:
		case <-timer.C:
		}
		// Clear a trigger that raced in alongside the timer so one wake
		// never turns into two refreshes. Triggers arriving while the
		// snapshot below is computed stay queued for the next wake.
		select {
		case <-b.trigger:
		default:
		}

		snapshot, err := b.refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("status refresh failed", "error", err)
		} else {
			b.broadcast(snapshot)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.interval)
	}
}

func (b *Bus) refresh(ctx context.Context) (Snapshot, error) {
	statuses, err := b.provider.Snapshot(ctx)
	b.onRefresh(err != nil)
	if err != nil {
		return nil, err
	}
	return Snapshot(statuses), nil
}

// broadcast deposits the snapshot into every mailbox without ever blocking:
// an unread snapshot is discarded in favour of the new one.
func (b *Bus) broadcast(snapshot Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		b.depositLocked(sub, snapshot)
	}
}

// depositIfEmpty fills the mailbox only when nothing is pending. The
// subscribe path uses it so a broadcast that raced ahead of the
// subscribe-time snapshot is never displaced by the older value.
func (b *Bus) depositIfEmpty(sub *Subscription, snapshot Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	select {
	case sub.mailbox <- snapshot:
	default:
	}
}

// depositLocked replaces the mailbox content. Deposits only happen under
// b.mu and the subscriber only drains, so the retry send cannot fail.
func (b *Bus) depositLocked(sub *Subscription, snapshot Snapshot) {
	select {
	case sub.mailbox <- snapshot:
	default:
		select {
		case <-sub.mailbox:
		default:
		}
		select {
		case sub.mailbox <- snapshot:
		default:
		}
	}
}

// unsubscribe deregisters the mailbox and discards any undelivered snapshot
// before closing, so a closed subscription yields closure, not stale data.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		select {
		case <-sub.mailbox:
		default:
		}
		close(sub.mailbox)
	}
	b.mu.Unlock()
}

// Subscription is one observer's handle on the bus. Close it on every exit
// path; closing twice or after the bus stopped is safe.
type Subscription struct {
	bus     *Bus
	mailbox chan Snapshot
	once    sync.Once
}

// Updates returns the mailbox channel. It yields the most recent undelivered
// snapshot and is closed when the subscription is closed.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.mailbox
}

// Close deregisters the subscription and releases its mailbox.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}
