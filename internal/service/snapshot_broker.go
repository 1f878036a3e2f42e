package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

const defaultPublishTimeout = 2 * time.Second

// SnapshotBrokerOptions groups dependencies for SnapshotBroker.
type SnapshotBrokerOptions struct {
	PublishTimeout time.Duration // Optional: bound on waiting for one subscriber's slot, default 2s
	Logger         *slog.Logger  // Optional: structured logger
	Metrics        statsd.Sink   // Optional: metrics sink
}

// SnapshotBroker hands every published snapshot to each subscriber. Each
// subscriber holds at most one pending snapshot: a publish replaces an unread
// one, so a slow reader always wakes up to the newest state.
type SnapshotBroker struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics statsd.Sink

	mu     sync.Mutex
	subs   map[*snapshotSub]struct{}
	latest *model.JobsSnapshot
	closed bool
}

type snapshotSub struct {
	ch   chan *model.JobsSnapshot
	once sync.Once

	// slot is a one-token lock held while writing to ch, so unsubscribe never
	// closes ch under a sender. A channel rather than a mutex lets publishers
	// give up after the timeout.
	slot   chan struct{}
	closed bool
}

func newSnapshotSub() *snapshotSub {
	return &snapshotSub{
		ch:   make(chan *model.JobsSnapshot, 1),
		slot: make(chan struct{}, 1),
	}
}

// NewSnapshotBroker constructs a broker.
func NewSnapshotBroker(opts SnapshotBrokerOptions) *SnapshotBroker {
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotBroker{
		timeout: timeout,
		logger:  logger.With("component", "snapshot_broker"),
		metrics: opts.Metrics,
		subs:    make(map[*snapshotSub]struct{}),
	}
}

// Subscribe registers a subscriber. The channel is primed with the latest
// snapshot when one exists and is closed by the returned func or by Close.
func (b *SnapshotBroker) Subscribe() (func(), <-chan *model.JobsSnapshot) {
	sub := newSnapshotSub()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return func() {}, sub.ch
	}
	if b.latest != nil {
		sub.ch <- b.latest
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}
	return unsub, sub.ch
}

// Subscribers returns the number of live subscribers.
func (b *SnapshotBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish records snap as the latest snapshot and delivers it to every
// subscriber concurrently, replacing any snapshot the subscriber has not read
// yet. snapshot.dropped counts replaced snapshots and deliveries abandoned
// because the slot stayed busy past the timeout or ctx ended.
func (b *SnapshotBroker) Publish(ctx context.Context, snap *model.JobsSnapshot) {
	if snap == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest = snap
	subs := make([]*snapshotSub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	var (
		g       errgroup.Group
		dropped int64
		dmu     sync.Mutex
	)
	for _, sub := range subs {
		g.Go(func() error {
			if !b.deliver(ctx, sub, snap) {
				dmu.Lock()
				dropped++
				dmu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if dropped > 0 {
		b.logger.DebugContext(ctx, "snapshot not delivered to slow subscribers", "dropped", dropped, "subscribers", len(subs))
		if b.metrics != nil {
			b.metrics.Count("snapshot.dropped", dropped, nil)
		}
	}
}

// Close unsubscribes everyone; later publishes are ignored.
func (b *SnapshotBroker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*snapshotSub]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// deliver leaves snap as the subscriber's pending snapshot. It reports false
// when a snapshot was lost: either an unread one was replaced, or the slot
// could not be taken in time and snap itself was not delivered.
func (b *SnapshotBroker) deliver(ctx context.Context, sub *snapshotSub, snap *model.JobsSnapshot) bool {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case sub.slot <- struct{}{}:
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
	defer func() { <-sub.slot }()

	if sub.closed {
		return true
	}

	delivered := true
	select {
	case old := <-sub.ch:
		delivered = false
		// Concurrent publishes may arrive out of order; keep the newer one.
		if old.TakenAt().After(snap.TakenAt()) {
			snap = old
		}
	default:
	}
	// The slot makes this the only sender and the buffer is now empty.
	sub.ch <- snap
	return delivered
}

func (s *snapshotSub) close() {
	s.once.Do(func() {
		s.slot <- struct{}{}
		defer func() { <-s.slot }()
		s.closed = true
		close(s.ch)
	})
}
