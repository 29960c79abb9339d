// Package eventstore journals preference changes, restores and storage-mode transitions
// so they can be inspected after the fact.
package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving records.
type Store interface {
	// Append adds a record; ID is assigned by the store.
	Append(ctx context.Context, r Record) error

	// BySubject returns the newest records for subject, oldest first. limit <= 0 means all.
	BySubject(ctx context.Context, subject string, limit int) ([]Record, error)

	// Range returns records within [start, end], oldest first.
	Range(ctx context.Context, start, end time.Time) ([]Record, error)

	// Prune keeps only the newest keep records.
	Prune(ctx context.Context, keep int) (int64, error)

	Close() error
}
