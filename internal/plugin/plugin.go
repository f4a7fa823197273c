// Package plugin is the authentication plugin the host platform talks to.
// Protocol work is delegated to the configured login flow; the plugin itself
// keeps token records consistent with the host's users and prunes abandoned
// login handshakes.
package plugin

import (
	"context"
	"fmt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/event"
	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/state"
	"github.com/openkcm/auth-oidc/internal/token"
)

// AuthType is the auth method the host records for users of this plugin.
const AuthType = "oidc"

// Identity is a user the host has just authenticated, by any auth method.
type Identity struct {
	UserID     int64
	Username   string
	AuthMethod string
}

type Deps struct {
	loginflow.Deps

	Events        event.Sink
	PrunerOptions []state.PrunerOption
}

type Plugin struct {
	flow   loginflow.Flow
	tokens *token.Service
	pruner *state.Pruner
	events event.Sink
}

// New instantiates the configured login flow from registry. An unknown flow
// name is a configuration error.
func New(registry *loginflow.Registry, deps Deps) (*Plugin, error) {
	flow, err := registry.New(deps.Config.LoginFlow, deps.Deps)
	if err != nil {
		return nil, err
	}

	events := deps.Events
	if events == nil {
		events = event.LogSink{}
	}

	p := &Plugin{
		flow:   flow,
		tokens: token.NewService(deps.Tokens),
		events: events,
	}
	if deps.States != nil {
		p.pruner = state.NewPruner(deps.States, deps.PrunerOptions...)
	}

	return p, nil
}

func (p *Plugin) IdPs(ctx context.Context, wantsURL string) ([]loginflow.IdP, error) {
	return p.flow.IdPs(ctx, wantsURL)
}

func (p *Plugin) LoginPageHook(ctx context.Context, req loginflow.LoginPageRequest) (loginflow.LoginPageResult, error) {
	return p.flow.LoginPageHook(ctx, req)
}

func (p *Plugin) HandleRedirect(ctx context.Context, req loginflow.RedirectRequest) (loginflow.RedirectResult, error) {
	return p.flow.HandleRedirect(ctx, req)
}

func (p *Plugin) Disconnect(ctx context.Context, userID int64) error {
	return p.flow.Disconnect(ctx, userID)
}

func (p *Plugin) UserLogin(ctx context.Context, username, password string) (bool, error) {
	return p.flow.UserLogin(ctx, username, password)
}

func (p *Plugin) UserInfo(ctx context.Context, username string) (loginflow.UserInfo, error) {
	return p.flow.UserInfo(ctx, username)
}

// UserAuthenticated reconciles the token record of a freshly authenticated
// user. Only users authenticated through this plugin raise a login event;
// failing to publish it does not fail the hook.
func (p *Plugin) UserAuthenticated(ctx context.Context, id Identity) error {
	ctx = slogctx.With(ctx, "user_id", id.UserID, "auth", id.AuthMethod)

	if _, err := p.tokens.Reconcile(ctx, token.Identity{UserID: id.UserID, Username: id.Username}); err != nil {
		return err
	}

	if id.AuthMethod != AuthType {
		return nil
	}

	if err := p.events.UserLoggedIn(ctx, event.UserLoggedIn{UserID: id.UserID, Username: id.Username}); err != nil {
		slogctx.Error(ctx, "Failed to publish user login event", "error", err)
	}

	return nil
}

// Cron removes stale login states and returns how many were deleted.
// Storage failures are returned to the scheduler.
func (p *Plugin) Cron(ctx context.Context) (int64, error) {
	if p.pruner == nil {
		return 0, nil
	}

	deleted, err := p.pruner.Prune(ctx)
	if err != nil {
		return 0, fmt.Errorf("pruning states: %w", err)
	}

	return deleted, nil
}
