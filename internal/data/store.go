package data

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/model"
	apperrors "github.com/target/mmk-autoingest/internal/errors"
)

// StoreConfig holds options shared by the coordination store backends.
type StoreConfig struct {
	Logger       *slog.Logger
	TimeProvider core.TimeProvider
}

func (c StoreConfig) clock() core.TimeProvider {
	if c.TimeProvider == nil {
		return core.RealTimeProvider{}
	}
	return c.TimeProvider
}

func (c StoreConfig) logger(component string) *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", component)
	}
	return c.Logger.With("component", component)
}

// validateWrite rejects records that would break store invariants.
func validateWrite(rec model.JobRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidTransition, err)
	}
	return nil
}

// wrapSQL annotates a database error with op and maps driver failures onto
// the domain sentinels (duplicate, not found, unavailable).
func wrapSQL(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{model.ErrDuplicateJob, model.ErrJobNotFound, model.ErrVersionConflict, model.ErrStoreUnavailable} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, apperrors.MapDBError(err))
}

var (
	_ core.CoordinationStore   = (*MemoryStore)(nil)
	_ core.ChangeWaiter        = (*MemoryStore)(nil)
	_ core.RetentionRepository = (*MemoryStore)(nil)
	_ core.CoordinationStore   = (*PostgresStore)(nil)
	_ core.ChangeWaiter        = (*PostgresStore)(nil)
	_ core.RetentionRepository = (*PostgresStore)(nil)
	_ core.CoordinationStore   = (*RedisStore)(nil)
	_ core.ChangeWaiter        = (*RedisStore)(nil)
	_ core.RetentionRepository = (*RedisStore)(nil)
)
