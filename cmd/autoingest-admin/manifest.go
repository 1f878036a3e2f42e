package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// manifest lists jobs to enqueue:
//
//	priority: 5          # default for entries without one
//	jobs:
//	  - case: case-2026-014
//	    data_source: /evidence/laptop.e01
//	  - case: case-2026-014
//	    data_source: /evidence/phone.tar
//	    priority: 9
type manifest struct {
	Priority *int            `yaml:"priority"`
	Jobs     []manifestEntry `yaml:"jobs"`
}

type manifestEntry struct {
	Case       string `yaml:"case"`
	DataSource string `yaml:"data_source"`
	Priority   *int   `yaml:"priority"`
}

type enqueueFileOptions struct {
	Path           string
	SkipDuplicates bool
	DryRun         bool
}

// parseManifest decodes a manifest, rejecting unknown keys and entries
// without a case or data source.
func parseManifest(r io.Reader) ([]model.EnqueueRequest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	reqs := make([]model.EnqueueRequest, 0, len(m.Jobs))
	for i, entry := range m.Jobs {
		req := model.EnqueueRequest{CaseName: entry.Case, DataSource: entry.DataSource}
		switch {
		case entry.Priority != nil:
			req.Priority = *entry.Priority
		case m.Priority != nil:
			req.Priority = *m.Priority
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, errors.New("manifest lists no jobs")
	}
	return reqs, nil
}

func parseEnqueueFileFlags(args []string) (enqueueFileOptions, error) {
	fs := flag.NewFlagSet("enqueue-file", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts enqueueFileOptions
	fs.BoolVar(&opts.SkipDuplicates, "skip-duplicates", false, "Skip jobs that are already pending or running")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Validate the manifest without enqueueing")

	if err := fs.Parse(args); err != nil {
		return enqueueFileOptions{}, err
	}
	if fs.NArg() != 1 {
		return enqueueFileOptions{}, errors.New("usage: enqueue-file [--skip-duplicates] [--dry-run] <manifest.yaml>")
	}
	opts.Path = fs.Arg(0)
	return opts, nil
}

func runEnqueueFile(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueFileFlags(args)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	reqs, err := parseManifest(f)
	if closeErr := f.Close(); closeErr != nil {
		cmdCtx.Logger.Warn("close manifest failed", "error", closeErr)
	}
	if err != nil {
		return err
	}

	if opts.DryRun {
		return writef(cmdCtx.Out, "manifest ok: %d jobs\n", len(reqs))
	}

	return withSession(cmdCtx, func(ctx context.Context, s *session) error {
		return enqueueAll(ctx, cmdCtx.Out, s.Monitor, reqs, opts.SkipDuplicates)
	})
}

type enqueuer interface {
	Enqueue(ctx context.Context, req model.EnqueueRequest) (model.JobRecord, error)
}

// enqueueAll enqueues reqs in order and stops at the first error unless the
// error is a duplicate and skipDuplicates is set.
func enqueueAll(ctx context.Context, w io.Writer, svc enqueuer, reqs []model.EnqueueRequest, skipDuplicates bool) error {
	added, skipped := 0, 0
	for _, req := range reqs {
		rec, err := svc.Enqueue(ctx, req)
		switch {
		case err == nil:
			added++
			if err := writef(w, "enqueued %s (priority %d)\n", rec.JobKey, rec.Priority); err != nil {
				return err
			}
		case skipDuplicates && errors.Is(err, model.ErrDuplicateJob):
			skipped++
			if err := writef(w, "skipped %s: already queued or running\n", req.Key()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("enqueue %s: %w", req.Key(), err)
		}
	}
	return writef(w, "%d enqueued, %d skipped\n", added, skipped)
}
