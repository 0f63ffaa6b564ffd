package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: domain.ErrConcurrencyConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: domain.ErrConcurrencyConflict},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: domain.ErrConcurrencyConflict},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: domain.ErrStoreUnavailable},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, want: domain.ErrStoreUnavailable},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: domain.ErrStoreUnavailable},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: domain.ErrStoreUnavailable},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.err) {
				t.Fatalf("expected original error to be preserved, got %v", got)
			}
			if !strings.HasPrefix(got.Error(), "op: ") {
				t.Fatalf("expected op prefix, got %q", got.Error())
			}
			for _, kind := range []error{domain.ErrConcurrencyConflict, domain.ErrStoreUnavailable} {
				if matched := errors.Is(got, kind); matched != (kind == tt.want) {
					t.Fatalf("errors.Is(%v) = %t, want %t", kind, matched, kind == tt.want)
				}
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if classify("op", nil) != nil {
		t.Fatal("expected nil error to stay nil")
	}
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("d", "\n\tid, donor_id,\n\tamount\n")
	if got != "d.id, d.donor_id, d.amount" {
		t.Fatalf("unexpected columns %q", got)
	}
}

func TestNormalizeLimit(t *testing.T) {
	for input, want := range map[int]int{0: defaultListLimit, -3: defaultListLimit, 25: 25, 5000: 1000} {
		if got := normalizeLimit(input); got != want {
			t.Fatalf("normalizeLimit(%d) = %d, want %d", input, got, want)
		}
	}
}

func TestSchemaDeclaresDonorPartition(t *testing.T) {
	for _, fragment := range []string{
		"PRIMARY KEY (donor_id, id)",
		"UNIQUE (donor_id, idempotency_key)",
		"CREATE TABLE IF NOT EXISTS campaign_donation_index",
		"CREATE TABLE IF NOT EXISTS campaign_total_applications",
		"CREATE TABLE IF NOT EXISTS donor_aggregate_applications",
	} {
		if !strings.Contains(schemaSQL, fragment) {
			t.Fatalf("schema is missing %q", fragment)
		}
	}
}
