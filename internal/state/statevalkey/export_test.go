package statevalkey

import (
	"context"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-oidc/internal/state"
)

func DeleteStatesMatching(ctx context.Context, c valkey.Client, prefix string, drop func(state.Record) bool) (int64, error) {
	return deleteMatching(ctx, newStore(c, prefix), objectTypeState, drop)
}
