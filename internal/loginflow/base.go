package loginflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/config"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/state"
	"github.com/openkcm/auth-oidc/internal/token"
)

var ErrInvalidConfig = errors.New("invalid login flow configuration")

// Deps is everything a flow constructor may use.
type Deps struct {
	Config       config.Plugin
	ClientSecret string
	Tokens       token.Repository
	States       state.Repository
	Providers    *ProviderCache
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Base implements the parts all flows share: provider discovery, ID token
// verification, token persistence, disconnecting and profile lookup.
type Base struct {
	Config config.Plugin
	Tokens token.Repository
	States state.Repository
	Now    func() time.Time

	clientSecret string
	providers    *ProviderCache
	client       *http.Client
}

func NewBase(deps Deps) (*Base, error) {
	if deps.Config.IssuerURL == "" {
		return nil, fmt.Errorf("%w: issuer URL is required", ErrInvalidConfig)
	}
	if deps.Config.ClientAuth.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID is required", ErrInvalidConfig)
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("%w: token repository is required", ErrInvalidConfig)
	}

	b := &Base{
		Config:       deps.Config,
		Tokens:       deps.Tokens,
		States:       deps.States,
		Now:          deps.Now,
		clientSecret: deps.ClientSecret,
		providers:    deps.Providers,
		client:       deps.HTTPClient,
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	if b.providers == nil {
		ttl := deps.Config.DiscoveryCacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		b.providers = NewProviderCache(ttl)
	}

	return b, nil
}

// ClientContext makes oauth2 and go-oidc use the configured HTTP client.
func (b *Base) ClientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, b.client)
}

func (b *Base) Provider(ctx context.Context) (*oidc.Provider, error) {
	return b.providers.Get(ctx, b.client, b.Config.IssuerURL)
}

func (b *Base) OAuth2Config(provider *oidc.Provider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.Config.ClientAuth.ClientID,
		ClientSecret: b.clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  b.Config.CallbackURL,
		Scopes:       b.scopes(),
	}
}

func (b *Base) scopes() []string {
	scopes := b.Config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile", "email"}
	}
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	return scopes
}

// Verified is a token response whose ID token passed verification.
type Verified struct {
	Token      *oauth2.Token
	RawIDToken string
	Claims     IDClaims
	// Username is the value of the configured username claim, falling back
	// to the subject.
	Username string
}

// Verify checks the ID token of a token response. An empty nonce skips the
// nonce comparison.
func (b *Base) Verify(ctx context.Context, provider *oidc.Provider, tok *oauth2.Token, nonce string) (Verified, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Verified{}, fmt.Errorf("%w: no id_token in token response", serviceerr.ErrInvalidGrant)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: b.Config.ClientAuth.ClientID, Now: b.Now})
	idToken, err := verifier.Verify(b.ClientContext(ctx), rawIDToken)
	if err != nil {
		return Verified{}, fmt.Errorf("%w: verifying id token: %w", serviceerr.ErrInvalidGrant, err)
	}

	if nonce != "" && idToken.Nonce != nonce {
		return Verified{}, serviceerr.ErrNonceMismatch
	}

	if idToken.AccessTokenHash != "" {
		if err := verifyAtHash(rawIDToken, tok.AccessToken, idToken.AccessTokenHash); err != nil {
			return Verified{}, err
		}
	}

	var claims IDClaims
	var all map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Verified{}, fmt.Errorf("decoding id token claims: %w", err)
	}
	if err := idToken.Claims(&all); err != nil {
		return Verified{}, fmt.Errorf("decoding id token claims: %w", err)
	}

	username, _ := all[b.Config.UsernameClaim].(string)
	if username == "" {
		username = idToken.Subject
	}

	return Verified{
		Token:      tok,
		RawIDToken: rawIDToken,
		Claims:     claims,
		Username:   username,
	}, nil
}

// SaveTokens stores the tokens of v in the record of its subject, creating
// the record on the first login. hostUsername names new records; when empty
// the username claim is used.
func (b *Base) SaveTokens(ctx context.Context, v Verified, hostUsername, authCode string) (token.Record, error) {
	ctx = slogctx.With(ctx, "subject", v.Claims.Subject)

	scope, _ := v.Token.Extra("scope").(string)
	if scope == "" {
		scope = strings.Join(b.scopes(), " ")
	}

	rec, err := b.Tokens.GetBySubject(ctx, v.Claims.Subject)
	switch {
	case err == nil:
		rec.OIDCUsername = v.Username
		rec.Scope = scope
		rec.AuthCode = authCode
		rec.AccessToken = v.Token.AccessToken
		rec.RefreshToken = v.Token.RefreshToken
		rec.IDToken = v.RawIDToken
		rec.Expiry = v.Token.Expiry

		if err := b.Tokens.Update(ctx, rec); err != nil {
			return token.Record{}, fmt.Errorf("updating token record: %w", err)
		}
		slogctx.Debug(ctx, "Updated token record", "username", rec.Username)

		return rec, nil
	case errors.Is(err, serviceerr.ErrNotFound):
		username := hostUsername
		if username == "" {
			username = v.Username
		}

		rec, err = b.Tokens.Create(ctx, token.Record{
			Username:     username,
			Subject:      v.Claims.Subject,
			OIDCUsername: v.Username,
			Scope:        scope,
			AuthCode:     authCode,
			AccessToken:  v.Token.AccessToken,
			RefreshToken: v.Token.RefreshToken,
			IDToken:      v.RawIDToken,
			Expiry:       v.Token.Expiry,
		})
		if err != nil {
			return token.Record{}, fmt.Errorf("creating token record: %w", err)
		}
		slogctx.Info(ctx, "Created token record", "username", rec.Username)

		return rec, nil
	default:
		return token.Record{}, fmt.Errorf("getting token record: %w", err)
	}
}

// Disconnect removes the token record of a user. A user without a record is
// already disconnected.
func (b *Base) Disconnect(ctx context.Context, userID int64) error {
	err := b.Tokens.DeleteByUserID(ctx, userID)
	if err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("deleting token record: %w", err)
	}

	slogctx.Info(ctx, "Disconnected user from the identity provider", "user_id", userID)

	return nil
}

// UserInfo maps the ID token stored for username onto the host's profile
// fields.
func (b *Base) UserInfo(ctx context.Context, username string) (UserInfo, error) {
	rec, err := b.Tokens.GetByUsername(ctx, username)
	if err != nil {
		return UserInfo{}, fmt.Errorf("getting token record: %w", err)
	}

	claims, err := storedClaims(rec.IDToken)
	if err != nil {
		return UserInfo{}, err
	}

	return UserInfo{
		Subject:   claims.Subject,
		Username:  rec.Username,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Email:     claims.Email,
	}, nil
}
