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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/bootstrap"
	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/migrate"
	"github.com/target/mmk-autoingest/internal/util"
)

const defaultMigrationTimeout = 5 * time.Minute

type migrateOptions struct {
	Timeout time.Duration
}

type jobOptions struct {
	Key      model.JobKey
	Priority int
	Reason   string
	JSON     bool
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}
	if backend, _ := config.ParseStoreBackend(cmdCtx.Config.Store.Backend); backend != config.StoreBackendPostgres {
		return fmt.Errorf("migrate only applies to the postgres store (STORE_BACKEND=%q)", cmdCtx.Config.Store.Backend)
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	report, err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	if err != nil {
		return err
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return printMigrationReport(cmdCtx.Out, report)
}

func printMigrationReport(w io.Writer, report migrate.Report) error {
	for _, v := range report.Applied {
		if _, err := fmt.Fprintf(w, "applied %s\n", v); err != nil {
			return err
		}
	}
	version := report.Version
	if version == "" {
		version = "none"
	}
	_, err := fmt.Fprintf(w, "schema version: %s (%d applied this run)\n", version, len(report.Applied))
	return err
}

// parseJobFlags parses the flags shared by the single-job commands. want
// lists the optional flags the command accepts beyond --case and --source.
func parseJobFlags(name string, args []string, want ...string) (jobOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobOptions
	priority := ""
	fs.StringVar(&opts.Key.CaseName, "case", "", "Case name (required)")
	fs.StringVar(&opts.Key.DataSource, "source", "", "Data source (required)")
	for _, w := range want {
		switch w {
		case "priority":
			fs.StringVar(&priority, "priority", "", "Job priority; higher runs first")
		case "reason":
			fs.StringVar(&opts.Reason, "reason", "", "Cancellation reason recorded on the job")
		case "json":
			fs.BoolVar(&opts.JSON, "json", false, "Print the record as JSON")
		}
	}

	if err := fs.Parse(args); err != nil {
		return jobOptions{}, err
	}

	opts.Key.CaseName = strings.TrimSpace(opts.Key.CaseName)
	opts.Key.DataSource = strings.TrimSpace(opts.Key.DataSource)
	if err := opts.Key.Validate(); err != nil {
		return jobOptions{}, fmt.Errorf("--case and --source: %w", err)
	}

	if priority != "" {
		p, err := strconv.Atoi(priority)
		if err != nil {
			return jobOptions{}, fmt.Errorf("--priority: %w", err)
		}
		opts.Priority = p
	} else if name == "prioritize" {
		return jobOptions{}, errors.New("--priority is required")
	}

	return opts, nil
}

func runEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("enqueue", args, "priority", "json")
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		rec, err := s.Monitor.Enqueue(ctx, model.EnqueueRequest{
			CaseName:   opts.Key.CaseName,
			DataSource: opts.Key.DataSource,
			Priority:   opts.Priority,
		})
		if err != nil {
			return err
		}
		return printRecord(cmdCtx.Out, rec, opts.JSON)
	})
}

func runCancel(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("cancel", args, "reason", "json")
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		rec, err := s.Monitor.Cancel(ctx, opts.Key, opts.Reason)
		if err != nil {
			return err
		}
		return printRecord(cmdCtx.Out, rec, opts.JSON)
	})
}

func runPrioritize(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("prioritize", args, "priority", "json")
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		rec, err := s.Monitor.Reprioritize(ctx, opts.Key, opts.Priority)
		if err != nil {
			return err
		}
		return printRecord(cmdCtx.Out, rec, opts.JSON)
	})
}

func runShow(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("show", args, "json")
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		rec, err := s.Monitor.SelectJob(ctx, opts.Key)
		if err != nil {
			return err
		}
		return printRecord(cmdCtx.Out, rec, opts.JSON)
	})
}

// printRecord writes rec as indented JSON or as a two-column table.
func printRecord(w io.Writer, rec model.JobRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendRow(table.Row{"ID", rec.ID})
	t.AppendRow(table.Row{"Case", rec.CaseName})
	t.AppendRow(table.Row{"Data source", rec.DataSource})
	t.AppendRow(table.Row{"State", rec.State})
	t.AppendRow(table.Row{"Priority", rec.Priority})
	t.AppendRow(table.Row{"Created", util.FormatTimestamp(&rec.CreatedAt)})
	if rec.HostName != "" {
		t.AppendRow(table.Row{"Host", rec.HostName})
	}
	if rec.Stage != "" {
		t.AppendRow(table.Row{"Stage", rec.Stage})
		t.AppendRow(table.Row{"Stage started", util.FormatTimestamp(rec.StageStartedAt)})
	}
	if rec.CompletedAt != nil {
		t.AppendRow(table.Row{"Completed", util.FormatTimestamp(rec.CompletedAt)})
	}
	if rec.Status != nil {
		t.AppendRow(table.Row{"Status", rec.Status.String()})
	}
	t.AppendRow(table.Row{"Version", rec.Version})
	return writeln(w, t.Render())
}
