package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/observer"
	"github.com/target/mmk-autoingest/internal/service"
)

// ANSI clear screen and home cursor.
const clearScreen = "\033[H\033[2J"

type statusOptions struct {
	JSON bool
}

func parseStatusFlags(name string, args []string) (statusOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts statusOptions
	if name == "status" {
		fs.BoolVar(&opts.JSON, "json", false, "Print the snapshot as JSON")
	}
	if err := fs.Parse(args); err != nil {
		return statusOptions{}, err
	}
	return opts, nil
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatusFlags("status", args)
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		return printStatus(ctx, cmdCtx.Out, s.Monitor, opts)
	})
}

// degradedStatus is printed by status --json when the store could not be
// read; there is no snapshot to show.
type degradedStatus struct {
	Degraded bool                `json:"degraded"`
	Error    string              `json:"error"`
	Health   service.StoreHealth `json:"health"`
}

// printStatus reconciles once and prints the panels. A failed reconcile still
// prints the degraded health, then returns the error so the command exits
// non-zero.
func printStatus(ctx context.Context, w io.Writer, monitor *service.MonitorService, opts statusOptions) error {
	snap, reconcileErr := monitor.Reconcile(ctx)
	if reconcileErr != nil {
		reconcileErr = fmt.Errorf("reconcile: %w", reconcileErr)
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if reconcileErr != nil {
			if err := enc.Encode(degradedStatus{Degraded: true, Error: reconcileErr.Error(), Health: monitor.Health()}); err != nil {
				return errors.Join(reconcileErr, err)
			}
			return reconcileErr
		}
		return enc.Encode(snap.View())
	}

	if err := drawBoard(w, observer.NewBoard(), snap, monitor.Health(), false); err != nil {
		return errors.Join(reconcileErr, err)
	}
	return reconcileErr
}

func runWatch(cmdCtx *commandContext, args []string) error {
	if _, err := parseStatusFlags("watch", args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	watchCtx := *cmdCtx
	watchCtx.Ctx = ctx

	return withSession(&watchCtx, func(ctx context.Context, s *session) error {
		// Draw immediately; Run waits a jittered interval before its first pass.
		if _, err := s.Monitor.Reconcile(ctx); err != nil {
			cmdCtx.Logger.WarnContext(ctx, "initial reconcile failed", "error", err)
		}
		unsubscribe, snaps := s.Monitor.Subscribe()
		defer unsubscribe()

		runErr := make(chan error, 1)
		go func() { runErr <- s.Monitor.Run(ctx) }()

		board := observer.NewBoard()
		redraw := observer.ShouldColorize(cmdCtx.Out)
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return <-runErr
				}
				if err := drawBoard(cmdCtx.Out, board, snap, s.Monitor.Health(), redraw); err != nil {
					return err
				}
			case err := <-runErr:
				return err
			}
		}
	})
}

// drawBoard refreshes board from snap and renders all three panels. A nil
// snap keeps the previous rows and marks the panels stale.
func drawBoard(w io.Writer, board *observer.Board, snap *model.JobsSnapshot, health service.StoreHealth, redraw bool) error {
	if snap != nil {
		board.Refresh(snap)
	}
	board.SetHealth(health.Degraded || snap == nil, health.LastSuccessAt, health.LastError)
	if redraw {
		if _, err := io.WriteString(w, clearScreen); err != nil {
			return err
		}
	}
	return observer.NewRenderer(w).Render(board.Views()...)
}
