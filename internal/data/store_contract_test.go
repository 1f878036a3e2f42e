package data

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/testutil"
)

type contractStore interface {
	core.CoordinationStore
	core.ChangeWaiter
	core.RetentionRepository
}

type storeFactory func(t *testing.T, clock core.TimeProvider) contractStore

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, clock core.TimeProvider) contractStore {
			return NewMemoryStore(StoreConfig{TimeProvider: clock})
		},
		"postgres": func(t *testing.T, clock core.TimeProvider) contractStore {
			db := testutil.SetupTestDB(t)
			t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
			return NewPostgresStore(db, StoreConfig{TimeProvider: clock})
		},
		"redis": func(t *testing.T, clock core.TimeProvider) contractStore {
			client := testutil.SetupTestRedis(t)
			return NewRedisStore(client, "autoingest-test", StoreConfig{TimeProvider: clock})
		},
	}
}

// forEachStore runs fn against every backend that is reachable.
func forEachStore(t *testing.T, fn func(t *testing.T, store contractStore, clock *testutil.TestTimeProvider)) {
	t.Helper()
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewTestTimeProvider(testutil.TestTime())
			fn(t, factory(t, clock), clock)
		})
	}
}

func assertSameJob(t *testing.T, want, got model.JobRecord) {
	t.Helper()
	assert.Equal(t, want.JobKey, got.JobKey)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Priority, got.Priority)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.HostName, got.HostName)
	assert.Equal(t, want.Stage, got.Stage)
	assert.Equal(t, want.Status, got.Status)
	assertSameTime(t, want.StageStartedAt, got.StageStartedAt)
	assertSameTime(t, want.CompletedAt, got.CompletedAt)
}

func assertSameTime(t *testing.T, want, got *time.Time) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "%v != %v", *want, *got)
}

func TestStore_InsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		rec := testutil.NewJob("case-1", "disk.e01").WithPriority(5).Build()

		stored, err := store.Insert(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assertSameJob(t, rec, stored)

		got, err := store.Get(ctx, rec.JobKey)
		require.NoError(t, err)
		assert.Equal(t, stored.Version, got.Version)
		assertSameJob(t, rec, got)

		_, err = store.Get(ctx, model.JobKey{CaseName: "case-1", DataSource: "missing"})
		require.ErrorIs(t, err, model.ErrJobNotFound)
	})
}

func TestStore_InsertDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		rec := testutil.NewJob("case-1", "disk.e01").Build()
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		_, err = store.Insert(ctx, testutil.NewJob("case-1", "disk.e01").WithPriority(9).Build())
		require.ErrorIs(t, err, model.ErrDuplicateJob)

		got, err := store.Get(ctx, rec.JobKey)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID, "duplicate insert must not overwrite")
	})
}

func TestStore_InsertReplacesTerminal(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		done := testutil.NewJob("case-1", "disk.e01").
			Terminal(model.JobStateCompleted, model.Succeeded(""), testutil.TestTime().Add(time.Hour)).
			Build()
		_, err := store.Insert(ctx, testutil.NewJob("case-1", "disk.e01").Build())
		require.NoError(t, err)
		first, err := store.Get(ctx, done.JobKey)
		require.NoError(t, err)
		done.ID = first.ID
		_, err = store.CompareAndSwap(ctx, first.Version, done)
		require.NoError(t, err)

		again := testutil.NewJob("case-1", "disk.e01").WithPriority(3).Build()
		stored, err := store.Insert(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatePending, stored.State)
		assert.Equal(t, 3, stored.Priority)
		assert.Equal(t, first.Version+2, stored.Version)
		assert.Nil(t, stored.CompletedAt)
		assert.Equal(t, again.ID, stored.ID, "a replaced record takes the new identity")

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestStore_CompareAndSwap(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		stored, err := store.Insert(ctx, testutil.NewJob("case-1", "disk.e01").Build())
		require.NoError(t, err)

		running := testutil.NewJob("case-1", "disk.e01").Running("node-1", model.InitialStage, testutil.TestTime()).Build()
		running.ID = stored.ID

		swapped, err := store.CompareAndSwap(ctx, stored.Version, running)
		require.NoError(t, err)
		assert.Equal(t, stored.Version+1, swapped.Version)
		assert.Equal(t, "node-1", swapped.HostName)

		_, err = store.CompareAndSwap(ctx, stored.Version, running)
		require.ErrorIs(t, err, model.ErrVersionConflict)

		ghost := testutil.NewJob("case-9", "nothing").Build()
		_, err = store.CompareAndSwap(ctx, 1, ghost)
		require.ErrorIs(t, err, model.ErrJobNotFound)

		invalid := running
		invalid.HostName = ""
		_, err = store.CompareAndSwap(ctx, swapped.Version, invalid)
		require.ErrorIs(t, err, model.ErrInvalidTransition)
	})
}

func TestStore_CompareAndSwapKeepsIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		orig, err := store.Insert(ctx, testutil.NewJob("case-1", "disk.e01").Build())
		require.NoError(t, err)

		next := testutil.NewJob("case-1", "disk.e01").
			Running("node-1", model.InitialStage, testutil.TestTime()).
			CreatedAt(testutil.TestTime().Add(-24 * time.Hour)).
			Build()
		require.NotEqual(t, orig.ID, next.ID)

		swapped, err := store.CompareAndSwap(ctx, orig.Version, next)
		require.NoError(t, err)
		assert.Equal(t, orig.ID, swapped.ID)
		assert.True(t, orig.CreatedAt.Equal(swapped.CreatedAt), "created_at %v != %v", orig.CreatedAt, swapped.CreatedAt)
		assert.Equal(t, "node-1", swapped.HostName)

		got, err := store.Get(ctx, orig.JobKey)
		require.NoError(t, err)
		assert.Equal(t, orig.ID, got.ID)
		assert.True(t, orig.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", orig.CreatedAt, got.CreatedAt)
		assert.Equal(t, swapped.Version, got.Version)
	})
}

func TestStore_ConcurrentCompareAndSwapHasOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		stored, err := store.Insert(ctx, testutil.NewJob("case-1", "disk.e01").Build())
		require.NoError(t, err)

		const contenders = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				host := "node-" + string(rune('a'+i))
				next := testutil.NewJob("case-1", "disk.e01").Running(host, model.InitialStage, testutil.TestTime()).Build()
				next.ID = stored.ID
				if _, casErr := store.CompareAndSwap(ctx, stored.Version, next); casErr == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, casErr, model.ErrVersionConflict)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStore_List(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx := context.Background()
		for _, name := range []string{"b", "a", "c"} {
			_, err := store.Insert(ctx, testutil.NewJob(name, "src").Build())
			require.NoError(t, err)
		}

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "a", list[0].CaseName)
		assert.Equal(t, "c", list[2].CaseName)
	})
}

func TestStore_PurgeTerminal(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, clock *testutil.TestTimeProvider) {
		ctx := context.Background()
		base := testutil.TestTime()

		finish := func(name string, state model.JobState, at time.Time) {
			stored, err := store.Insert(ctx, testutil.NewJob(name, "src").Build())
			require.NoError(t, err)
			status := model.Succeeded("")
			if state == model.JobStateFailed {
				status = model.Errored("boom")
			}
			done := testutil.NewJob(name, "src").Terminal(state, status, at).Build()
			done.ID = stored.ID
			_, err = store.CompareAndSwap(ctx, stored.Version, done)
			require.NoError(t, err)
		}
		finish("old-1", model.JobStateCompleted, base)
		finish("old-2", model.JobStateCompleted, base.Add(time.Minute))
		finish("fresh", model.JobStateCompleted, base.Add(47*time.Hour))
		finish("old-failed", model.JobStateFailed, base)
		_, err := store.Insert(ctx, testutil.NewJob("pending", "src").Build())
		require.NoError(t, err)

		clock.SetTime(base.Add(48 * time.Hour))

		n, err := store.PurgeTerminal(ctx, core.PurgeTerminalParams{State: model.JobStateCompleted, MaxAge: 24 * time.Hour, BatchSize: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = store.Get(ctx, model.JobKey{CaseName: "old-1", DataSource: "src"})
		require.ErrorIs(t, err, model.ErrJobNotFound, "oldest record goes first")

		n, err = store.PurgeTerminal(ctx, core.PurgeTerminalParams{State: model.JobStateCompleted, MaxAge: 24 * time.Hour, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		list, err := store.List(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, rec := range list {
			names = append(names, rec.CaseName)
		}
		assert.ElementsMatch(t, []string{"fresh", "old-failed", "pending"}, names)

		_, err = store.PurgeTerminal(ctx, core.PurgeTerminalParams{State: model.JobStatePending, MaxAge: time.Hour, BatchSize: 10})
		require.Error(t, err)
	})
}

func TestStore_WaitForChange(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		woke := make(chan error, 1)
		go func() { woke <- store.WaitForChange(ctx) }()

		// Keep writing until the waiter has subscribed and observed one.
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case err := <-woke:
				require.NoError(t, err)
				return
			case <-ticker.C:
				_, err := store.Insert(ctx, testutil.NewJob("wake", fmt.Sprintf("src-%d", i)).Build())
				require.NoError(t, err)
			case <-ctx.Done():
				t.Fatal("waiter never woke")
			}
		}
	})
}

func TestStore_WaitForChangeHonoursContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, store contractStore, _ *testutil.TestTimeProvider) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := store.WaitForChange(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
