package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if GetCode(err) != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
	if !errors.Is(err, model.ErrJobNotFound) || !errors.Is(err, pgx.ErrNoRows) {
		t.Error("not found mapping must wrap both the sentinel and the driver error")
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name:      "column metadata",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "case_name"},
			wantField: "case_name",
		},
		{
			name: "detail message",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (case_name, data_source)=(c, d) already exists.`,
			},
			wantField: "case_name,data_source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if GetCode(err) != ErrCodeDuplicate {
				t.Fatalf("code = %v, want duplicate", GetCode(err))
			}
			if GetField(err) != tt.wantField {
				t.Errorf("field = %q, want %q", GetField(err), tt.wantField)
			}
			if !errors.Is(err, model.ErrDuplicateJob) {
				t.Error("unique violation must wrap model.ErrDuplicateJob")
			}
		})
	}
}

func TestMapDBError_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "connection failure class", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}},
		{name: "too many connections", err: &pgconn.PgError{Code: pgerrcode.TooManyConnections}},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgerrcode.AdminShutdown}},
		{name: "cannot connect now", err: &pgconn.PgError{Code: pgerrcode.CannotConnectNow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsUnavailable(err) {
				t.Fatalf("code = %v, want unavailable", GetCode(err))
			}
			if !errors.Is(err, model.ErrStoreUnavailable) {
				t.Error("unavailable mapping must wrap model.ErrStoreUnavailable")
			}
		})
	}
}

func TestMapDBError_ValidationAndUnknown(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "state"})
	if !IsValidation(err) || GetField(err) != "state" {
		t.Errorf("check violation mapped to %v/%q", GetCode(err), GetField(err))
	}

	err = MapDBError(&pgconn.PgError{Code: pgerrcode.SyntaxError})
	if GetCode(err) != ErrCodeInternal {
		t.Errorf("unknown pg error mapped to %v", GetCode(err))
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	orig := errors.New("standard error")
	if got := MapDBError(orig); got != orig {
		t.Errorf("MapDBError() = %v, want original error", got)
	}
}
