package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/mmk-autoingest/internal/bootstrap"
	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/service"
)

// session is one command's private monitor over the shared store.
type session struct {
	Store   core.CoordinationStore
	Monitor *service.MonitorService

	closeStore func() error
	closeObs   func() error
}

// openSession connects the configured store and builds a monitor over it.
// Observers need no central server: every CLI process is its own node view.
func openSession(cmdCtx *commandContext) (*session, error) {
	store, closeStore, err := bootstrap.OpenStore(cmdCtx.Ctx, bootstrap.StoreOptions{
		Config: &cmdCtx.Config,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return nil, err
	}

	svcs, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: &cmdCtx.Config,
		Store:  store,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}

	return &session{
		Store:      store,
		Monitor:    svcs.Monitor,
		closeStore: closeStore,
		closeObs:   svcs.Observability.Close,
	}, nil
}

// Close waits for pending notifications and releases connections.
func (s *session) Close() error {
	s.Monitor.Drain()
	var closeErr error
	if err := s.closeObs(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close metrics: %w", err))
	}
	if err := s.closeStore(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close store: %w", err))
	}
	return closeErr
}

// withSession runs fn against a fresh session and closes it afterwards.
func withSession(cmdCtx *commandContext, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("session close failed", "error", closeErr)
		}
	}()
	return fn(cmdCtx.Ctx, s)
}
