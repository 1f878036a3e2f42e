// Package core defines the ports between the coordination services and the
// persistence backends that implement them.
package core

import (
	"context"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// CoordinationStore is the shared, fleet-visible record of ingest jobs. Every
// backend keeps exactly one record per JobKey and bumps Version on each write.
type CoordinationStore interface {
	// Insert stores a new pending record. A terminal record for the same key is
	// replaced; a pending or running one yields model.ErrDuplicateJob.
	Insert(ctx context.Context, rec model.JobRecord) (model.JobRecord, error)

	// CompareAndSwap replaces the record for next.Key() only when the stored
	// version equals expectedVersion. It returns model.ErrVersionConflict on a
	// mismatch and model.ErrJobNotFound when the key is absent.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next model.JobRecord) (model.JobRecord, error)

	// Get returns the record for key or model.ErrJobNotFound.
	Get(ctx context.Context, key model.JobKey) (model.JobRecord, error)

	// List returns every record in the store in no particular order.
	List(ctx context.Context) ([]model.JobRecord, error)
}

// ChangeWaiter blocks until another writer changes the store. Backends that
// cannot push changes simply do not implement it and callers fall back to polling.
type ChangeWaiter interface {
	WaitForChange(ctx context.Context) error
}

// PurgeTerminalParams groups parameters for RetentionRepository.PurgeTerminal.
type PurgeTerminalParams struct {
	State     model.JobState
	MaxAge    time.Duration
	BatchSize int
}

// RetentionRepository removes terminal records that have aged out.
type RetentionRepository interface {
	// PurgeTerminal deletes records in params.State completed more than MaxAge
	// ago, at most BatchSize per call. Returns the number of records deleted.
	PurgeTerminal(ctx context.Context, params PurgeTerminalParams) (int64, error)
}

// StoreCloser is implemented by backends holding connections.
type StoreCloser interface {
	Close() error
}
