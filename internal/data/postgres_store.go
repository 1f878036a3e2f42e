package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/data/pgxutil"
	"github.com/target/mmk-autoingest/internal/domain/model"
)

// ChangeChannel is the LISTEN/NOTIFY channel announcing ingest_jobs writes.
// The payload is the changed job key.
const ChangeChannel = "ingest_jobs_changed"

const jobColumns = `
  case_name,
  data_source,
  id,
  state,
  priority,
  created_at,
  host_name,
  stage,
  stage_started_at,
  completed_at,
  status_kind,
  status_message,
  version,
  updated_at
`

// PostgresStore implements the coordination store on the ingest_jobs table.
type PostgresStore struct {
	DB     *sql.DB
	clock  core.TimeProvider
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore over db. Migrations must already be applied.
func NewPostgresStore(db *sql.DB, cfg StoreConfig) *PostgresStore {
	return &PostgresStore{
		DB:     db,
		clock:  cfg.clock(),
		logger: cfg.logger("postgres_store"),
	}
}

// jobRow mirrors one ingest_jobs row for pgx.RowToStructByName.
type jobRow struct {
	CaseName       string     `db:"case_name"`
	DataSource     string     `db:"data_source"`
	ID             string     `db:"id"`
	State          string     `db:"state"`
	Priority       int        `db:"priority"`
	CreatedAt      time.Time  `db:"created_at"`
	HostName       string     `db:"host_name"`
	Stage          string     `db:"stage"`
	StageStartedAt *time.Time `db:"stage_started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	StatusKind     *string    `db:"status_kind"`
	StatusMessage  *string    `db:"status_message"`
	Version        int64      `db:"version"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r jobRow) record() model.JobRecord {
	rec := model.JobRecord{
		ID:             r.ID,
		JobKey:         model.JobKey{CaseName: r.CaseName, DataSource: r.DataSource},
		State:          model.JobState(r.State),
		Priority:       r.Priority,
		CreatedAt:      r.CreatedAt.UTC(),
		HostName:       r.HostName,
		Stage:          r.Stage,
		StageStartedAt: utcPtr(r.StageStartedAt),
		CompletedAt:    utcPtr(r.CompletedAt),
		Version:        r.Version,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.StatusKind != nil {
		status := model.JobStatus{Kind: model.StatusKind(*r.StatusKind)}
		if r.StatusMessage != nil {
			status.Message = *r.StatusMessage
		}
		rec.Status = &status
	}
	return rec
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// rowArgs returns the mutable columns of rec in jobColumns order, starting at state.
func rowArgs(rec model.JobRecord) []any {
	var kind, msg *string
	if rec.Status != nil {
		k, m := string(rec.Status.Kind), rec.Status.Message
		kind, msg = &k, &m
	}
	return []any{
		string(rec.State),
		rec.Priority,
		rec.HostName,
		rec.Stage,
		rec.StageStartedAt,
		rec.CompletedAt,
		kind,
		msg,
		rec.UpdatedAt.UTC(),
	}
}

func scanJob(row *sql.Row) (model.JobRecord, error) {
	var r jobRow
	err := row.Scan(
		&r.CaseName,
		&r.DataSource,
		&r.ID,
		&r.State,
		&r.Priority,
		&r.CreatedAt,
		&r.HostName,
		&r.Stage,
		&r.StageStartedAt,
		&r.CompletedAt,
		&r.StatusKind,
		&r.StatusMessage,
		&r.Version,
		&r.UpdatedAt,
	)
	if err != nil {
		return model.JobRecord{}, err
	}
	return r.record(), nil
}

func notifyChange(ctx context.Context, tx *sql.Tx, key model.JobKey) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, ChangeChannel, key.String()); err != nil {
		return fmt.Errorf("send change notification: %w", err)
	}
	return nil
}

// Insert adds a pending row. ON CONFLICT only overwrites terminal rows, so an
// empty RETURNING means a live job already holds the key.
func (s *PostgresStore) Insert(ctx context.Context, rec model.JobRecord) (model.JobRecord, error) {
	if err := validateWrite(rec); err != nil {
		return model.JobRecord{}, err
	}

	var stored model.JobRecord
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			args := append([]any{rec.CaseName, rec.DataSource, rec.ID, rec.CreatedAt.UTC()}, rowArgs(rec)...)
			row := tx.QueryRowContext(ctx, `
				INSERT INTO ingest_jobs (
					case_name, data_source, id, created_at,
					state, priority, host_name, stage, stage_started_at,
					completed_at, status_kind, status_message, updated_at, version
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
				ON CONFLICT (case_name, data_source) DO UPDATE SET
					id = EXCLUDED.id,
					created_at = EXCLUDED.created_at,
					state = EXCLUDED.state,
					priority = EXCLUDED.priority,
					host_name = EXCLUDED.host_name,
					stage = EXCLUDED.stage,
					stage_started_at = EXCLUDED.stage_started_at,
					completed_at = EXCLUDED.completed_at,
					status_kind = EXCLUDED.status_kind,
					status_message = EXCLUDED.status_message,
					updated_at = EXCLUDED.updated_at,
					version = ingest_jobs.version + 1
				WHERE ingest_jobs.state IN ('completed', 'failed')
				RETURNING `+jobColumns, args...)

			var err error
			stored, err = scanJob(row)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", model.ErrDuplicateJob, rec.JobKey)
			}
			if err != nil {
				return err
			}
			return notifyChange(ctx, tx, rec.JobKey)
		},
	})
	if err != nil {
		return model.JobRecord{}, wrapSQL("insert job", err)
	}
	return stored, nil
}

// CompareAndSwap updates the row for next.Key() when its version equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next model.JobRecord) (model.JobRecord, error) {
	if err := validateWrite(next); err != nil {
		return model.JobRecord{}, err
	}

	var stored model.JobRecord
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			args := append([]any{next.CaseName, next.DataSource, expectedVersion}, rowArgs(next)...)
			row := tx.QueryRowContext(ctx, `
				UPDATE ingest_jobs SET
					state = $4,
					priority = $5,
					host_name = $6,
					stage = $7,
					stage_started_at = $8,
					completed_at = $9,
					status_kind = $10,
					status_message = $11,
					updated_at = $12,
					version = version + 1
				WHERE case_name = $1 AND data_source = $2 AND version = $3
				RETURNING `+jobColumns, args...)

			var err error
			stored, err = scanJob(row)
			if errors.Is(err, sql.ErrNoRows) {
				return s.explainMiss(ctx, tx, next.JobKey, expectedVersion)
			}
			if err != nil {
				return err
			}
			return notifyChange(ctx, tx, next.JobKey)
		},
	})
	if err != nil {
		return model.JobRecord{}, wrapSQL("compare and swap job", err)
	}
	return stored, nil
}

// explainMiss distinguishes a missing row from a version mismatch after a CAS update hit nothing.
func (s *PostgresStore) explainMiss(ctx context.Context, tx *sql.Tx, key model.JobKey, expected int64) error {
	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM ingest_jobs WHERE case_name = $1 AND data_source = $2`,
		key.CaseName, key.DataSource,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, key)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s at version %d, expected %d", model.ErrVersionConflict, key, current, expected)
}

// Get retrieves the row for key.
func (s *PostgresStore) Get(ctx context.Context, key model.JobKey) (model.JobRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM ingest_jobs
		WHERE case_name = $1 AND data_source = $2
	`, key.CaseName, key.DataSource)

	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobRecord{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, key)
	}
	if err != nil {
		return model.JobRecord{}, wrapSQL("get job", err)
	}
	return rec, nil
}

// List reads every row using pgx struct scanning.
func (s *PostgresStore) List(ctx context.Context) ([]model.JobRecord, error) {
	var out []model.JobRecord
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM ingest_jobs
			ORDER BY case_name, data_source
		`)
		if err != nil {
			return err
		}
		jobs, err := pgx.CollectRows(rows, pgx.RowToStructByName[jobRow])
		if err != nil {
			return err
		}
		out = make([]model.JobRecord, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, j.record())
		}
		return nil
	})
	if err != nil {
		return nil, wrapSQL("list jobs", err)
	}
	return out, nil
}

// WaitForChange blocks until another writer sends a change notification.
func (s *PostgresStore) WaitForChange(ctx context.Context) error {
	note, err := pgxutil.Listen(ctx, s.DB, ChangeChannel)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrapSQL("wait for change", err)
	}
	s.logger.DebugContext(ctx, "store change notification", "job", note.Payload)
	return nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.DB.Close()
}
