package tokensql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/token"
)

const selectColumns = `SELECT id, user_id, username, subject, oidc_username, scope, auth_code,
	access_token, refresh_token, id_token, expiry
FROM oidc_tokens`

type Repository struct {
	db *pgxpool.Pool
}

var _ = token.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Create(ctx context.Context, rec token.Record) (token.Record, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "create_oidc_token_sql")
	defer span.End()

	err := r.db.QueryRow(ctx,
		`INSERT INTO oidc_tokens (user_id, username, subject, oidc_username, scope, auth_code,
	access_token, refresh_token, id_token, expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id;`,
		nullableUserID(rec.UserID), rec.Username, rec.Subject, rec.OIDCUsername, rec.Scope, rec.AuthCode,
		rec.AccessToken, rec.RefreshToken, rec.IDToken, rec.Expiry,
	).Scan(&rec.ID)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return token.Record{}, err
		}

		return token.Record{}, fmt.Errorf("inserting into oidc_tokens: %w", err)
	}

	return rec, nil
}

func (r *Repository) Update(ctx context.Context, rec token.Record) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "update_oidc_token_sql")
	defer span.End()

	if err := r.update(ctx, r.db, rec); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

func (r *Repository) GetByUserID(ctx context.Context, userID int64) (token.Record, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oidc_token_by_user_id_sql")
	defer span.End()

	rec, err := scanRecord(r.db.QueryRow(ctx, selectColumns+` WHERE user_id = $1;`, userID))
	if err != nil {
		span.RecordError(err)
		return token.Record{}, err
	}

	return rec, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (token.Record, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oidc_token_by_username_sql")
	defer span.End()

	rec, err := scanRecord(r.db.QueryRow(ctx, selectColumns+` WHERE username = $1;`, username))
	if err != nil {
		span.RecordError(err)
		return token.Record{}, err
	}

	return rec, nil
}

func (r *Repository) GetBySubject(ctx context.Context, subject string) (token.Record, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oidc_token_by_subject_sql")
	defer span.End()

	rec, err := scanRecord(r.db.QueryRow(ctx, selectColumns+` WHERE subject = $1;`, subject))
	if err != nil {
		span.RecordError(err)
		return token.Record{}, err
	}

	return rec, nil
}

func (r *Repository) DeleteByUserID(ctx context.Context, userID int64) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_oidc_token_sql")
	defer span.End()

	ct, err := r.db.Exec(ctx, `DELETE FROM oidc_tokens WHERE user_id = $1;`, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing sql query: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func (r *Repository) ConsumeAuthCode(ctx context.Context, username, code string) (bool, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "consume_oidc_auth_code_sql")
	defer span.End()

	if code == "" {
		return false, nil
	}

	ct, err := r.db.Exec(ctx,
		`UPDATE oidc_tokens SET auth_code = '' WHERE username = $1 AND auth_code = $2 AND auth_code <> '';`,
		username, code)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("executing sql query: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// Reconcile locks the candidate rows so that concurrent callbacks for the same
// user serialise instead of overwriting each other. The unique constraints on
// user_id and username reject anything the locks cannot cover.
func (r *Repository) Reconcile(ctx context.Context, identity token.Identity) (token.Record, token.Outcome, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "reconcile_oidc_token_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return token.Record{}, token.OutcomeNoRecord, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	byUserID, err := lockRecord(tx.QueryRow(ctx, selectColumns+` WHERE user_id = $1 FOR UPDATE;`, identity.UserID))
	if err != nil {
		span.RecordError(err)
		return token.Record{}, token.OutcomeNoRecord, fmt.Errorf("selecting by user id: %w", err)
	}

	var byUsername *token.Record
	if byUserID == nil {
		byUsername, err = lockRecord(tx.QueryRow(ctx, selectColumns+` WHERE username = $1 FOR UPDATE;`, identity.Username))
		if err != nil {
			span.RecordError(err)
			return token.Record{}, token.OutcomeNoRecord, fmt.Errorf("selecting by username: %w", err)
		}
	}

	rec, outcome := token.PlanReconciliation(identity, byUserID, byUsername)
	if !outcome.Changed() {
		return rec, outcome, nil
	}

	if err := r.update(ctx, tx, rec); err != nil {
		span.RecordError(err)
		return token.Record{}, token.OutcomeNoRecord, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return token.Record{}, token.OutcomeNoRecord, fmt.Errorf("committing tx: %w", err)
	}

	return rec, outcome, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (r *Repository) update(ctx context.Context, db execer, rec token.Record) error {
	ct, err := db.Exec(ctx,
		`UPDATE oidc_tokens
SET user_id = $1, username = $2, subject = $3, oidc_username = $4, scope = $5, auth_code = $6,
	access_token = $7, refresh_token = $8, id_token = $9, expiry = $10
WHERE id = $11;`,
		nullableUserID(rec.UserID), rec.Username, rec.Subject, rec.OIDCUsername, rec.Scope, rec.AuthCode,
		rec.AccessToken, rec.RefreshToken, rec.IDToken, rec.Expiry, rec.ID,
	)
	if err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("updating oidc_tokens: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func lockRecord(row pgx.Row) (*token.Record, error) {
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, nil //nolint:nilnil
		}

		return nil, err
	}

	return &rec, nil
}

func scanRecord(row pgx.Row) (token.Record, error) {
	var rec token.Record
	var userID *int64

	err := row.Scan(&rec.ID, &userID, &rec.Username, &rec.Subject, &rec.OIDCUsername, &rec.Scope, &rec.AuthCode,
		&rec.AccessToken, &rec.RefreshToken, &rec.IDToken, &rec.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return token.Record{}, serviceerr.ErrNotFound
		}

		return token.Record{}, fmt.Errorf("scanning rows: %w", err)
	}

	if userID != nil {
		rec.UserID = *userID
	}

	return rec, nil
}

// nullableUserID stores unlinked records with a NULL user_id so that the
// unique constraint only applies to linked ones.
func nullableUserID(userID int64) *int64 {
	if userID == 0 {
		return nil
	}

	return &userID
}
