package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/config"
)

// cronRunner is the part of the plugin the housekeeping jobs drive.
type cronRunner interface {
	Cron(ctx context.Context) (int64, error)
}

// HousekeeperMain prunes stale login states until ctx is cancelled.
// Failed runs are logged and retried at the next tick.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	p, closeFn, err := initPlugin(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the plugin: %w", err)
	}
	defer closeFn()

	runHousekeeper(ctx, p, cfg.Housekeeper.TriggerInterval)

	return nil
}

// PruneMain prunes stale login states once. A failed run is returned so the
// job exits with an error.
func PruneMain(ctx context.Context, cfg *config.Config) error {
	p, closeFn, err := initPlugin(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the plugin: %w", err)
	}
	defer closeFn()

	return prune(ctx, p)
}

func runHousekeeper(ctx context.Context, p cronRunner, interval time.Duration) {
	c := time.Tick(interval)
	for {
		if err := prune(ctx, p); err != nil {
			slogctx.Error(ctx, "Error during state housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return
		}
	}
}

func prune(ctx context.Context, p cronRunner) error {
	deleted, err := p.Cron(ctx)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Pruned stale login states", "deleted", deleted)

	return nil
}
