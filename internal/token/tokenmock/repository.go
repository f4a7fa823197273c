package tokenmock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/token"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu      sync.Mutex
	records map[int64]token.Record
	nextID  int64

	getErr, createErr, updateErr, deleteErr, reconcileErr error
}

func WithRecord(rec token.Record) RepositoryOption {
	return func(r *Repository) {
		if rec.ID == 0 {
			r.nextID++
			rec.ID = r.nextID
		} else if rec.ID > r.nextID {
			r.nextID = rec.ID
		}
		r.records[rec.ID] = rec
	}
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithCreateError(err error) RepositoryOption {
	return func(r *Repository) { r.createErr = err }
}
func WithUpdateError(err error) RepositoryOption {
	return func(r *Repository) { r.updateErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}
func WithReconcileError(err error) RepositoryOption {
	return func(r *Repository) { r.reconcileErr = err }
}

var _ = token.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		records: make(map[int64]token.Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TRecords is a helper method for tests to inspect all stored records.
func (r *Repository) TRecords() []token.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := make([]token.Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	return recs
}

// TGet is a helper method for tests to get a record by its ID.
func (r *Repository) TGet(id int64) (token.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	return rec, ok
}

func (r *Repository) Create(_ context.Context, rec token.Record) (token.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return token.Record{}, r.createErr
	}
	if r.violatesUnique(rec) {
		return token.Record{}, serviceerr.ErrConflict
	}
	r.nextID++
	rec.ID = r.nextID
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *Repository) Update(_ context.Context, rec token.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return r.updateErr
	}
	return r.update(rec)
}

func (r *Repository) GetByUserID(_ context.Context, userID int64) (token.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return token.Record{}, r.getErr
	}
	if rec, ok := r.find(func(rec token.Record) bool { return rec.Linked() && rec.UserID == userID }); ok {
		return rec, nil
	}
	return token.Record{}, serviceerr.ErrNotFound
}

func (r *Repository) GetByUsername(_ context.Context, username string) (token.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return token.Record{}, r.getErr
	}
	if rec, ok := r.find(func(rec token.Record) bool { return rec.Username == username }); ok {
		return rec, nil
	}
	return token.Record{}, serviceerr.ErrNotFound
}

func (r *Repository) GetBySubject(_ context.Context, subject string) (token.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return token.Record{}, r.getErr
	}
	if rec, ok := r.find(func(rec token.Record) bool { return rec.Subject == subject }); ok {
		return rec, nil
	}
	return token.Record{}, serviceerr.ErrNotFound
}

func (r *Repository) DeleteByUserID(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return r.deleteErr
	}
	rec, ok := r.find(func(rec token.Record) bool { return rec.Linked() && rec.UserID == userID })
	if !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.records, rec.ID)
	return nil
}

func (r *Repository) ConsumeAuthCode(_ context.Context, username, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return false, r.updateErr
	}
	rec, ok := r.find(func(rec token.Record) bool { return rec.Username == username })
	if !ok || code == "" || rec.AuthCode != code {
		return false, nil
	}
	rec.AuthCode = ""
	r.records[rec.ID] = rec
	return true, nil
}

func (r *Repository) Reconcile(_ context.Context, identity token.Identity) (token.Record, token.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reconcileErr != nil {
		return token.Record{}, token.OutcomeNoRecord, r.reconcileErr
	}

	var byUserID, byUsername *token.Record
	if rec, ok := r.find(func(rec token.Record) bool { return rec.Linked() && rec.UserID == identity.UserID }); ok {
		byUserID = &rec
	} else if rec, ok := r.find(func(rec token.Record) bool { return rec.Username == identity.Username }); ok {
		byUsername = &rec
	}

	rec, outcome := token.PlanReconciliation(identity, byUserID, byUsername)
	if !outcome.Changed() {
		return rec, outcome, nil
	}
	if err := r.update(rec); err != nil {
		return token.Record{}, token.OutcomeNoRecord, err
	}
	return rec, outcome, nil
}

func (r *Repository) update(rec token.Record) error {
	if _, ok := r.records[rec.ID]; !ok {
		return serviceerr.ErrNotFound
	}
	if r.violatesUnique(rec) {
		return serviceerr.ErrConflict
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *Repository) violatesUnique(rec token.Record) bool {
	_, ok := r.find(func(other token.Record) bool {
		if other.ID == rec.ID {
			return false
		}
		return other.Username == rec.Username ||
			(rec.Subject != "" && other.Subject == rec.Subject) ||
			(rec.Linked() && other.UserID == rec.UserID)
	})
	return ok
}

func (r *Repository) find(match func(token.Record) bool) (token.Record, bool) {
	for _, rec := range r.records {
		if match(rec) {
			return rec, true
		}
	}
	return token.Record{}, false
}
