package storage

import "errors"

// Storage errors for append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a transition consumes a fund record
	// that another transition already spent.
	ErrConflict = errors.New("conflict: fund record already spent")

	// ErrReserved is returned when a fund record is claimed by another withdrawal.
	ErrReserved = errors.New("fund record reserved")

	// ErrClosed is returned when a transition would add records to a pot
	// whose settlement marker has been burned.
	ErrClosed = errors.New("pot closed: settlement marker burned")
)

// IsContention reports whether err means another writer won a race for the
// same fund records. Callers re-read the pot and retry.
func IsContention(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrReserved)
}
