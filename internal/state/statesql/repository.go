package statesql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/state"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ = state.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Load(ctx context.Context, id string) (state.Record, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "load_oidc_state_sql")
	defer span.End()

	var rec state.Record
	err := r.db.QueryRow(ctx, `SELECT id, nonce, fingerprint, verifier, additional_data, time_created
FROM oidc_states
WHERE id = $1;`,
		id,
	).Scan(&rec.ID, &rec.Nonce, &rec.Fingerprint, &rec.PKCEVerifier, &rec.AdditionalData, &rec.TimeCreated)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Record{}, serviceerr.ErrNotFound
		}

		return state.Record{}, fmt.Errorf("selecting from oidc_states: %w", err)
	}

	return rec, nil
}

func (r *Repository) Store(ctx context.Context, rec state.Record) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "store_oidc_state_sql")
	defer span.End()

	additionalData := rec.AdditionalData
	if additionalData == nil {
		additionalData = map[string]string{}
	}

	if _, err := r.db.Exec(ctx, `INSERT INTO oidc_states (id, nonce, fingerprint, verifier, additional_data, time_created)
VALUES ($1, $2, $3, $4, $5, $6);`,
		rec.ID, rec.Nonce, rec.Fingerprint, rec.PKCEVerifier, additionalData, rec.TimeCreated,
	); err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into oidc_states: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_oidc_state_sql")
	defer span.End()

	if _, err := r.db.Exec(ctx, `DELETE FROM oidc_states WHERE id = $1;`, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting from oidc_states: %w", err)
	}

	return nil
}

func (r *Repository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "prune_oidc_states_sql")
	defer span.End()

	ct, err := r.db.Exec(ctx, `DELETE FROM oidc_states WHERE time_created < $1;`, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting from oidc_states: %w", err)
	}

	return ct.RowsAffected(), nil
}
