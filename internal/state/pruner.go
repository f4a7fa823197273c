package state

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	slogctx "github.com/veqryn/slog-context"
)

type PrunerOption func(*Pruner)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) PrunerOption {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMeter records the number of pruned states on the given meter.
func WithMeter(meter metric.Meter) PrunerOption {
	return func(p *Pruner) {
		if meter != nil {
			p.meter = meter
		}
	}
}

// Pruner removes abandoned login handshakes.
type Pruner struct {
	states Repository
	now    func() time.Time
	meter  metric.Meter
	pruned metric.Int64Counter
}

func NewPruner(states Repository, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		states: states,
		now:    time.Now,
		meter:  otel.Meter("auth-oidc/state"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	pruned, err := p.meter.Int64Counter(
		"housekeeper.pruned_states",
		metric.WithDescription("Number of stale login states removed"),
		metric.WithUnit("state"),
	)
	if err != nil {
		pruned, _ = noop.NewMeterProvider().Meter("").Int64Counter("housekeeper.pruned_states")
	}
	p.pruned = pruned

	return p
}

// Prune deletes every state created more than MaxAge ago. Running it again
// without new states deletes nothing.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-MaxAge)

	deleted, err := p.states.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting states created before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	p.pruned.Add(ctx, deleted)
	slogctx.Debug(ctx, "Pruned stale login states", "deleted", deleted, "cutoff", cutoff)

	return deleted, nil
}
