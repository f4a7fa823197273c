package state

import (
	"context"
	"time"
)

type Repository interface {
	Load(ctx context.Context, id string) (Record, error)
	Store(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	// DeleteCreatedBefore removes every record whose TimeCreated is strictly
	// before cutoff and returns how many were removed.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
