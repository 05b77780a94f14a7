// Package dedup suppresses reprocessing of redelivered webhook events.
package dedup

import (
	"context"
	"errors"
)

// OutcomePending marks a reserved event whose processing has not finished.
const OutcomePending = "pending"

var ErrEmptyID = errors.New("dedup: empty event id")

// Store is a keyed record of logical events already taken by a worker.
type Store interface {
	// Reserve atomically records id as pending. It returns false when a live
	// record for id already exists.
	Reserve(ctx context.Context, id string) (bool, error)
	// MarkProcessed stores the terminal outcome for a reserved id.
	MarkProcessed(ctx context.Context, id, outcome string) error
}
