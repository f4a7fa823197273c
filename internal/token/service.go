package token

import (
	"context"
	"fmt"

	slogctx "github.com/veqryn/slog-context"
)

type Service struct {
	repository Repository
}

func NewService(repo Repository) *Service {
	return &Service{
		repository: repo,
	}
}

// Reconcile makes the stored token record consistent with an identity the host
// has authenticated. A missing record is not an error; the outcome tells the
// caller whether anything was written.
func (s *Service) Reconcile(ctx context.Context, identity Identity) (Outcome, error) {
	ctx = slogctx.With(ctx, "user_id", identity.UserID, "username", identity.Username)

	if err := identity.Validate(); err != nil {
		return OutcomeNoRecord, err
	}

	_, outcome, err := s.repository.Reconcile(ctx, identity)
	if err != nil {
		return OutcomeNoRecord, fmt.Errorf("reconciling token record: %w", err)
	}

	switch outcome {
	case OutcomeNoRecord:
		slogctx.Debug(ctx, "No token record to reconcile")
	case OutcomeUnchanged:
		slogctx.Debug(ctx, "Token record already reconciled")
	default:
		slogctx.Info(ctx, "Reconciled token record", "outcome", outcome.String())
	}

	return outcome, nil
}
