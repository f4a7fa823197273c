package statemock

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/state"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu     sync.Mutex
	states map[string]state.Record

	loadErr, storeErr, deleteErr error
}

func WithState(rec state.Record) RepositoryOption {
	return func(r *Repository) { r.states[rec.ID] = rec }
}
func WithLoadError(err error) RepositoryOption {
	return func(r *Repository) { r.loadErr = err }
}
func WithStoreError(err error) RepositoryOption {
	return func(r *Repository) { r.storeErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}

var _ = state.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		states: make(map[string]state.Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TLen is a helper method for tests to count the stored states.
func (r *Repository) TLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.states)
}

// THas is a helper method for tests to check for a state.
func (r *Repository) THas(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.states[id]
	return ok
}

// TStates is a helper method for tests to copy all stored states.
func (r *Repository) TStates() map[string]state.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.states)
}

func (r *Repository) Load(_ context.Context, id string) (state.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadErr != nil {
		return state.Record{}, r.loadErr
	}
	rec, ok := r.states[id]
	if !ok {
		return state.Record{}, serviceerr.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Store(_ context.Context, rec state.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return r.storeErr
	}
	if _, ok := r.states[rec.ID]; ok {
		return serviceerr.ErrConflict
	}
	r.states[rec.ID] = rec
	return nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.states, id)
	return nil
}

func (r *Repository) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	var deleted int64
	for id, rec := range r.states {
		if rec.TimeCreated.Before(cutoff) {
			delete(r.states, id)
			deleted++
		}
	}
	return deleted, nil
}
