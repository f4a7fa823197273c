package statevalkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-oidc/internal/state"
)

const objectTypeState = "state"

// keyTTL lets ValKey drop states the pruner never got to. It is longer than
// state.MaxAge so that the pruner stays the authority on staleness.
const keyTTL = 2 * state.MaxAge

var (
	ErrGetState   = errors.New("getting state from store")
	ErrStoreState = errors.New("setting state into storage")
)

type Repository struct {
	store *store
}

var _ = state.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) Load(ctx context.Context, id string) (state.Record, error) {
	var rec state.Record
	if err := r.store.Get(ctx, objectTypeState, id, &rec); err != nil {
		return state.Record{}, errors.Join(ErrGetState, err)
	}

	return rec, nil
}

func (r *Repository) Store(ctx context.Context, rec state.Record) error {
	if err := r.store.SetNew(ctx, objectTypeState, rec.ID, rec, keyTTL); err != nil {
		return errors.Join(ErrStoreState, err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Destroy(ctx, objectTypeState, id); err != nil {
		return fmt.Errorf("deleting state from store: %w", err)
	}

	return nil
}

func (r *Repository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := deleteMatching(ctx, r.store, objectTypeState, func(rec state.Record) bool {
		return rec.TimeCreated.Before(cutoff)
	})
	if err != nil {
		return deleted, fmt.Errorf("pruning states: %w", err)
	}

	return deleted, nil
}
