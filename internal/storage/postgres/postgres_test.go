package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"parimutuel-escrow/internal/storage"
)

func TestClassify(t *testing.T) {
	pgErr := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "boom"})
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", pgErr(pgErrUniqueViolation), storage.ErrDuplicateKey},
		{"deadlock", pgErr(pgErrDeadlock), storage.ErrConflict},
		{"serialization", pgErr(pgErrSerialization), storage.ErrConflict},
		{"check", pgErr(pgErrCheckViolation), storage.ErrInvalidInput},
		{"foreign key", pgErr(pgErrForeignKeyViolation), storage.ErrInvalidInput},
		{"bigint overflow", pgErr(pgErrOutOfRange), storage.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err, "insert"); !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}

	if classify(nil, "insert") != nil {
		t.Error("classify(nil) should be nil")
	}

	other := errors.New("connection reset")
	got := classify(other, "insert position")
	if !errors.Is(got, other) || errors.Is(got, storage.ErrConflict) {
		t.Errorf("unexpected classification of plain error: %v", got)
	}
}
