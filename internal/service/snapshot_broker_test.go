package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
	"github.com/target/mmk-autoingest/internal/testutil"
)

func brokerSnapshot(t *testing.T, cases ...string) *model.JobsSnapshot {
	t.Helper()
	recs := make([]model.JobRecord, 0, len(cases))
	for _, c := range cases {
		recs = append(recs, testutil.NewJob(c, "disk.e01").Build())
	}
	return model.NewJobsSnapshot(recs, testutil.TestTime())
}

func TestSnapshotBroker_SubscribePrimedWithLatest(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{})
	first := brokerSnapshot(t, "a")
	b.Publish(context.Background(), first)

	unsub, ch := b.Subscribe()
	defer unsub()

	select {
	case got := <-ch:
		assert.Same(t, first, got)
	default:
		t.Fatal("expected primed snapshot")
	}
	assert.Equal(t, 1, b.Subscribers())
}

func TestSnapshotBroker_PublishDeliversToAll(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{PublishTimeout: time.Second})
	unsubA, chA := b.Subscribe()
	defer unsubA()
	unsubB, chB := b.Subscribe()
	defer unsubB()

	snap := brokerSnapshot(t, "a", "b")
	b.Publish(context.Background(), snap)

	assert.Same(t, snap, <-chA)
	assert.Same(t, snap, <-chB)
}

func TestSnapshotBroker_SlowSubscriberGetsLatest(t *testing.T) {
	rec := &statsd.Recorder{}
	b := NewSnapshotBroker(SnapshotBrokerOptions{PublishTimeout: time.Minute, Metrics: rec})
	unsubSlow, slow := b.Subscribe()
	defer unsubSlow()
	unsubFast, fast := b.Subscribe()
	defer unsubFast()

	first := brokerSnapshot(t, "a")
	second := brokerSnapshot(t, "b")
	third := brokerSnapshot(t, "c")

	b.Publish(context.Background(), first)
	require.Same(t, first, <-fast)

	// slow never reads first; each publish replaces its pending snapshot
	// without waiting.
	start := time.Now()
	b.Publish(context.Background(), second)
	require.Same(t, second, <-fast)
	b.Publish(context.Background(), third)
	require.Same(t, third, <-fast)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Same(t, third, <-slow)
	select {
	case stale := <-slow:
		t.Fatalf("slow subscriber still had a pending snapshot: %v", stale.TakenAt())
	default:
	}

	dropped := rec.Named("snapshot.dropped")
	require.Len(t, dropped, 2)
	for _, d := range dropped {
		assert.InDelta(t, 1, d.Value, 0)
	}
}

func TestSnapshotBroker_OlderSnapshotDoesNotReplaceNewer(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{})
	unsub, ch := b.Subscribe()
	defer unsub()

	newer := model.NewJobsSnapshot(nil, testutil.TestTime().Add(time.Second))
	older := model.NewJobsSnapshot(nil, testutil.TestTime())

	b.Publish(context.Background(), newer)
	b.Publish(context.Background(), older)
	assert.Same(t, newer, <-ch)
}

func TestSnapshotBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{})
	unsub, ch := b.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())

	// Publishing after an unsubscribe must not panic.
	b.Publish(context.Background(), brokerSnapshot(t, "a"))
}

func TestSnapshotBroker_Close(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{})
	unsub, ch := b.Subscribe()
	defer unsub()

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(context.Background(), brokerSnapshot(t, "a"))

	_, late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

// onlySub returns the broker's single subscriber so a test can hold its slot.
func onlySub(t *testing.T, b *SnapshotBroker) *snapshotSub {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.subs, 1)
	for sub := range b.subs {
		return sub
	}
	return nil
}

func TestSnapshotBroker_PublishRespectsContext(t *testing.T) {
	rec := &statsd.Recorder{}
	b := NewSnapshotBroker(SnapshotBrokerOptions{PublishTimeout: time.Minute, Metrics: rec})
	unsub, ch := b.Subscribe()

	sub := onlySub(t, b)
	sub.slot <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Publish(ctx, brokerSnapshot(t, "b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not return after context deadline")
	}
	<-sub.slot

	require.Len(t, rec.Named("snapshot.dropped"), 1)
	select {
	case got := <-ch:
		t.Fatalf("abandoned delivery still reached the subscriber: %v", got)
	default:
	}
	unsub()
}

func TestSnapshotBroker_PublishTimesOutOnBusySubscriber(t *testing.T) {
	b := NewSnapshotBroker(SnapshotBrokerOptions{PublishTimeout: 20 * time.Millisecond})
	unsub, _ := b.Subscribe()
	defer unsub()

	sub := onlySub(t, b)
	sub.slot <- struct{}{}
	defer func() { <-sub.slot }()

	start := time.Now()
	b.Publish(context.Background(), brokerSnapshot(t, "a"))
	assert.Less(t, time.Since(start), time.Second)
}
