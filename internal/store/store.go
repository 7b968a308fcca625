// Package store persists privacy-reduced comparison records and the oracle
// audit trail.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetraminz/chatlog_audit/internal/compute"
)

// ErrUnavailable wraps every persistence failure so callers can report the
// comparison as unavailable without inspecting driver errors.
var ErrUnavailable = errors.New("comparison store unavailable")

// RecordStore is the persistence boundary of the comparison population.
// Records are write-once.
type RecordStore interface {
	// Store persists record and returns its id.
	Store(ctx context.Context, record compute.Record) (string, error)
	// FetchAll returns the whole population.
	FetchAll(ctx context.Context) ([]compute.Record, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
