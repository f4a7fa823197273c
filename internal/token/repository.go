package token

import "context"

type Repository interface {
	Create(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) error
	GetByUserID(ctx context.Context, userID int64) (Record, error)
	GetByUsername(ctx context.Context, username string) (Record, error)
	GetBySubject(ctx context.Context, subject string) (Record, error)
	DeleteByUserID(ctx context.Context, userID int64) error
	// ConsumeAuthCode clears the auth code of the user's record if it equals
	// code, reporting whether it did. Only one caller can consume a code.
	ConsumeAuthCode(ctx context.Context, username, code string) (bool, error)
	// Reconcile applies PlanReconciliation for the identity atomically and
	// returns the outcome together with the record as stored afterwards.
	Reconcile(ctx context.Context, identity Identity) (Record, Outcome, error)
}
