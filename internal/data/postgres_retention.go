package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/data/pgxutil"
	"github.com/target/mmk-autoingest/internal/domain/model"
)

// Advisory lock namespace for retention. Two-arg pg_try_advisory_xact_lock(major, minor)
// keeps concurrent reapers from deleting the same batch.
const (
	advisoryLockRetentionMajor     = 2000
	advisoryLockRetentionCompleted = 1
	advisoryLockRetentionFailed    = 2
)

// PurgeTerminal deletes a batch of aged terminal rows. When another reaper
// holds the lock for this state it returns 0 without error.
func (s *PostgresStore) PurgeTerminal(ctx context.Context, params core.PurgeTerminalParams) (int64, error) {
	if !params.State.Terminal() {
		return 0, fmt.Errorf("invalid purge state: %s", params.State)
	}
	minor := advisoryLockRetentionCompleted
	if params.State == model.JobStateFailed {
		minor = advisoryLockRetentionFailed
	}
	cutoff := s.clock.Now().Add(-params.MaxAge).UTC()

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockRetentionMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM ingest_jobs
				WHERE (case_name, data_source) IN (
					SELECT case_name, data_source FROM ingest_jobs
					WHERE state = $1
					  AND completed_at < $2
					ORDER BY completed_at
					LIMIT $3
				)
			`, string(params.State), cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("purge terminal jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			if ra == 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, 'retention')`, ChangeChannel); err != nil {
				return fmt.Errorf("send change notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, wrapSQL("purge terminal jobs", err)
	}
	return rowsAffected, nil
}
