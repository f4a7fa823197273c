// Package event publishes what happened during authentication to the host's
// event stream.
package event

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"
)

const source = "auth-oidc"

// UserLoggedIn is raised once a user authenticated through this plugin.
type UserLoggedIn struct {
	UserID   int64
	Username string
}

type Sink interface {
	UserLoggedIn(ctx context.Context, e UserLoggedIn) error
}

// AuditSink sends events as OTLP audit logs.
type AuditSink struct {
	audit *otlpaudit.AuditLogger
}

var _ = Sink(&AuditSink{})

func NewAuditSink(audit *otlpaudit.AuditLogger) *AuditSink {
	return &AuditSink{audit: audit}
}

func (s *AuditSink) UserLoggedIn(ctx context.Context, e UserLoggedIn) error {
	userID := strconv.FormatInt(e.UserID, 10)
	correlationID := uuid.NewString()

	metadata, err := otlpaudit.NewEventMetadata(source, userID, correlationID)
	if err != nil {
		return fmt.Errorf("creating audit metadata: %w", err)
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, userID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, userID)
	if err != nil {
		return fmt.Errorf("creating audit log: %w", err)
	}

	if err := s.audit.SendEvent(ctx, event); err != nil {
		return fmt.Errorf("sending audit log: %w", err)
	}

	slogctx.Debug(ctx, "Sent audit log for user login success", "user_id", e.UserID, "correlation_id", correlationID)

	return nil
}

// LogSink writes events to the structured log. It is used when no audit
// endpoint is configured.
type LogSink struct{}

var _ = Sink(LogSink{})

func (LogSink) UserLoggedIn(ctx context.Context, e UserLoggedIn) error {
	slogctx.Info(ctx, "User logged in", "user_id", e.UserID, "username", e.Username, "auth", source)
	return nil
}
