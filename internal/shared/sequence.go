package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sequences hands out gapless per-scope numbers via atomic increment-and-read.
// A point-in-time count is never used for numbering: counts race under
// concurrent writers at the same location.
type Sequences struct{}

// NewSequences constructs the counter service.
func NewSequences() *Sequences {
	return &Sequences{}
}

// Row abstracts the single-row query surface shared by pgx pools and transactions.
type Row interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next increments and returns the counter for key. It must be called inside
// the same transaction as the write that consumes the number so an aborted
// operation does not burn it.
func (s *Sequences) Next(ctx context.Context, q Row, key string) (int64, error) {
	if key == "" {
		return 0, errors.New("sequence key required")
	}
	var value int64
	err := q.QueryRow(ctx, `INSERT INTO sequences (key, value) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET value = sequences.value + 1
RETURNING value`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", key, err)
	}
	return value, nil
}

// PurchaseKey scopes purchase numbering per location.
func PurchaseKey(locationID int64) string {
	return fmt.Sprintf("purchase:%d", locationID)
}
