package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/urbantransit/ticket-service/internal/domain"
)

type stubRow struct {
	err error
}

func (r stubRow) Scan(dest ...any) error {
	return r.err
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "other pg code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "any unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "tickets_token_key"}, want: true},
		{
			name:       "matching constraint",
			err:        &pgconn.PgError{Code: "23505", ConstraintName: "refund_requests_one_open_idx"},
			constraint: "refund_requests_one_open_idx",
			want:       true,
		},
		{
			name:       "different constraint",
			err:        &pgconn.PgError{Code: "23505", ConstraintName: "tickets_token_key"},
			constraint: "refund_requests_one_open_idx",
			want:       false,
		},
		{
			name:       "wrapped error",
			err:        fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "tickets_token_key"}),
			constraint: "tickets_token_key",
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}

func TestScanHelpersMapNoRowsToSentinels(t *testing.T) {
	if _, err := scanTicket(stubRow{err: pgx.ErrNoRows}); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
	if _, err := scanRefund(stubRow{err: pgx.ErrNoRows}); !errors.Is(err, ErrRefundNotFound) {
		t.Fatalf("expected ErrRefundNotFound, got %v", err)
	}

	boom := errors.New("connection reset")
	if _, err := scanTicket(stubRow{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected driver error to pass through, got %v", err)
	}
}

func TestSchemaEnforcesTicketInvariants(t *testing.T) {
	required := []string{
		"tickets_token_key UNIQUE (token)",
		"CHECK (status <> 'CANCELLED' OR used_at IS NULL)",
		"CHECK (used_at IS NULL OR fare_type = '" + string(domain.FareSingleRide) + "')",
		"refund_requests_one_open_idx",
		"WHERE status IN ('PENDING', 'COMPLETED')",
	}
	for _, fragment := range required {
		if !strings.Contains(schemaSQL, fragment) {
			t.Fatalf("expected schema to contain %q", fragment)
		}
	}
}
