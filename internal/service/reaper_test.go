package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/mocks"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

// fakeRetentionRepo returns each state's count once, then zero.
type fakeRetentionRepo struct {
	mu     sync.Mutex
	calls  map[model.JobState]int
	counts map[model.JobState]int64
	errs   map[model.JobState]error
	params []core.PurgeTerminalParams
}

func (f *fakeRetentionRepo) PurgeTerminal(_ context.Context, params core.PurgeTerminalParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[model.JobState]int)
	}
	f.calls[params.State]++
	f.params = append(f.params, params)
	if err := f.errs[params.State]; err != nil {
		return 0, err
	}
	if f.calls[params.State] == 1 {
		return f.counts[params.State], nil
	}
	return 0, nil
}

func (f *fakeRetentionRepo) callCount(state model.JobState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[state]
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        5 * time.Minute,
		CompletedMaxAge: 7 * 24 * time.Hour,
		FailedMaxAge:    30 * 24 * time.Hour,
		BatchSize:       500,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &fakeRetentionRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := MustNewReaperService(ReaperServiceOptions{Config: testReaperConfig()})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "RetentionRepository is required")
	})
}

func TestReaperService_runCleanup(t *testing.T) {
	t.Run("purges each terminal state with its own max age", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockRetentionRepository(ctrl)
		cfg := testReaperConfig()

		gomock.InOrder(
			repo.EXPECT().PurgeTerminal(gomock.Any(), core.PurgeTerminalParams{
				State: model.JobStateCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 500,
			}).Return(int64(500), nil),
			repo.EXPECT().PurgeTerminal(gomock.Any(), core.PurgeTerminalParams{
				State: model.JobStateCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 500,
			}).Return(int64(12), nil),
			repo.EXPECT().PurgeTerminal(gomock.Any(), core.PurgeTerminalParams{
				State: model.JobStateCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 500,
			}).Return(int64(0), nil),
			repo.EXPECT().PurgeTerminal(gomock.Any(), core.PurgeTerminalParams{
				State: model.JobStateFailed, MaxAge: cfg.FailedMaxAge, BatchSize: 500,
			}).Return(int64(0), nil),
		)

		rec := &statsd.Recorder{}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg, Metrics: rec})
		require.NoError(t, err)

		require.NoError(t, svc.runCleanup(context.Background()))

		purged := rec.Named("reaper.jobs_purged")
		require.Len(t, purged, 1)
		assert.InDelta(t, 512.0, purged[0].Value, 0)
		assert.Equal(t, "purge_completed", purged[0].Tags["operation"])

		cleanup := rec.Named("reaper.cleanup")
		require.Len(t, cleanup, 1)
		assert.Equal(t, "success", cleanup[0].Tags["result"])
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := &fakeRetentionRepo{
			counts: map[model.JobState]int64{model.JobStateFailed: 4},
			errs:   map[model.JobState]error{model.JobStateCompleted: model.ErrStoreUnavailable},
		}
		rec := &statsd.Recorder{}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: rec})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())

		require.Error(t, err)
		require.ErrorIs(t, err, model.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "purge completed jobs")
		assert.Equal(t, 1, repo.callCount(model.JobStateCompleted))
		assert.Equal(t, 2, repo.callCount(model.JobStateFailed))

		cleanup := rec.Named("reaper.cleanup")
		require.Len(t, cleanup, 1)
		assert.Equal(t, "error", cleanup[0].Tags["result"])
		assert.Equal(t, "store_unavailable", cleanup[0].Tags["error_class"])
	})

	t.Run("reports plain cancellation", func(t *testing.T) {
		repo := &fakeRetentionRepo{
			errs: map[model.JobState]error{
				model.JobStateCompleted: context.Canceled,
				model.JobStateFailed:    context.Canceled,
			},
		}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		assert.Equal(t, context.Canceled, err)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := &fakeRetentionRepo{}
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			return repo.callCount(model.JobStateFailed) >= 1
		}, time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := &fakeRetentionRepo{
			errs: map[model.JobState]error{model.JobStateCompleted: errors.New("test error")},
		}
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err = svc.Run(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, repo.callCount(model.JobStateCompleted), 2)
	})
}

func TestReaperService_RunOnce(t *testing.T) {
	repo := &fakeRetentionRepo{counts: map[model.JobState]int64{model.JobStateCompleted: 3}}
	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Equal(t, 2, repo.callCount(model.JobStateCompleted))
	assert.Equal(t, 1, repo.callCount(model.JobStateFailed))
}
