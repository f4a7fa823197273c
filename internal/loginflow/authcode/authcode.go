// Package authcode implements the authorization code flow with PKCE.
//
// The callback stores the authorization code in the user's token record and
// hands it to the host, which completes the login by calling UserLogin with
// the code as the password.
package authcode

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/pkce"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/state"
)

const Name = "authcode"

const (
	dataWantsURL = "wantsurl"
	dataSource   = "source"
)

type Flow struct {
	*loginflow.Base

	source pkce.Source
}

var _ = loginflow.Flow(&Flow{})

func New(deps loginflow.Deps) (loginflow.Flow, error) {
	base, err := loginflow.NewBase(deps)
	if err != nil {
		return nil, err
	}
	if deps.States == nil {
		return nil, fmt.Errorf("%w: state repository is required", loginflow.ErrInvalidConfig)
	}
	if deps.Config.CallbackURL == "" {
		return nil, fmt.Errorf("%w: callback URL is required", loginflow.ErrInvalidConfig)
	}
	if _, err := url.Parse(deps.Config.CallbackURL); err != nil {
		return nil, fmt.Errorf("%w: parsing callback URL: %w", loginflow.ErrInvalidConfig, err)
	}

	return &Flow{Base: base}, nil
}

// IdPs returns a single entry pointing at the redirect endpoint.
func (f *Flow) IdPs(_ context.Context, wantsURL string) ([]loginflow.IdP, error) {
	u, err := url.Parse(f.Config.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("parsing callback URL: %w", err)
	}

	q := u.Query()
	q.Set(dataSource, "loginpage")
	if wantsURL != "" {
		q.Set(dataWantsURL, wantsURL)
	}
	u.RawQuery = q.Encode()

	return []loginflow.IdP{{
		URL:     u.String(),
		Name:    f.Config.ProviderName,
		IconURL: f.Config.IconURL,
	}}, nil
}

func (f *Flow) LoginPageHook(ctx context.Context, req loginflow.LoginPageRequest) (loginflow.LoginPageResult, error) {
	if !f.Config.ForceRedirect || req.NoRedirect {
		return loginflow.LoginPageResult{}, nil
	}

	authURL, err := f.startHandshake(ctx, req.Fingerprint, map[string]string{
		dataWantsURL: req.WantsURL,
		dataSource:   "loginpage",
	})
	if err != nil {
		return loginflow.LoginPageResult{}, err
	}

	return loginflow.LoginPageResult{RedirectURL: authURL}, nil
}

func (f *Flow) HandleRedirect(ctx context.Context, req loginflow.RedirectRequest) (loginflow.RedirectResult, error) {
	switch {
	case req.Error != "":
		if req.State != "" {
			if err := f.States.Delete(ctx, req.State); err != nil {
				slogctx.Warn(ctx, "Could not delete state of a failed login", "error", err)
			}
		}
		slogctx.Info(ctx, "Identity provider returned an error", "error", req.Error, "description", req.ErrorDescription)

		return loginflow.RedirectResult{}, &serviceerr.Error{
			Err:         serviceerr.CodeAccessDenied,
			Description: fmt.Sprintf("%s: %s", req.Error, req.ErrorDescription),
		}
	case req.Code == "":
		authURL, err := f.startHandshake(ctx, req.Fingerprint, map[string]string{
			dataWantsURL: req.WantsURL,
			dataSource:   req.Source,
		})
		if err != nil {
			return loginflow.RedirectResult{}, err
		}

		return loginflow.RedirectResult{RedirectURL: authURL}, nil
	default:
		return f.finishHandshake(ctx, req)
	}
}

// UserLogin accepts the authorization code handed out by the redirect
// endpoint as a one-time password.
func (f *Flow) UserLogin(ctx context.Context, username, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	ok, err := f.Tokens.ConsumeAuthCode(ctx, username, password)
	if err != nil {
		return false, fmt.Errorf("consuming authorization code: %w", err)
	}

	return ok, nil
}

func (f *Flow) startHandshake(ctx context.Context, fingerprint string, data map[string]string) (string, error) {
	provider, err := f.Provider(ctx)
	if err != nil {
		return "", err
	}

	for k, v := range data {
		if v == "" {
			delete(data, k)
		}
	}

	challenge := f.source.PKCE()
	rec := state.Record{
		ID:             f.source.State(),
		Nonce:          f.source.Nonce(),
		Fingerprint:    fingerprint,
		PKCEVerifier:   challenge.Verifier,
		AdditionalData: data,
		TimeCreated:    f.Now(),
	}
	if err := f.States.Store(ctx, rec); err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}

	opts := append([]oauth2.AuthCodeOption{oidc.Nonce(rec.Nonce)}, challenge.AuthCodeOptions()...)

	return f.OAuth2Config(provider).AuthCodeURL(rec.ID, opts...), nil
}

func (f *Flow) finishHandshake(ctx context.Context, req loginflow.RedirectRequest) (loginflow.RedirectResult, error) {
	if req.State == "" {
		return loginflow.RedirectResult{}, fmt.Errorf("%w: missing state", serviceerr.ErrInvalidRequest)
	}

	rec, err := f.States.Load(ctx, req.State)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return loginflow.RedirectResult{}, fmt.Errorf("%w: unknown state", serviceerr.ErrInvalidRequest)
		}

		return loginflow.RedirectResult{}, fmt.Errorf("loading state: %w", err)
	}

	// A state is good for one callback, whatever its outcome.
	if err := f.States.Delete(ctx, rec.ID); err != nil {
		return loginflow.RedirectResult{}, fmt.Errorf("deleting state: %w", err)
	}

	if rec.Expired(f.Now()) {
		return loginflow.RedirectResult{}, serviceerr.ErrStateExpired
	}
	if subtle.ConstantTimeCompare([]byte(rec.Fingerprint), []byte(req.Fingerprint)) != 1 {
		return loginflow.RedirectResult{}, serviceerr.ErrFingerprintMismatch
	}

	provider, err := f.Provider(ctx)
	if err != nil {
		return loginflow.RedirectResult{}, err
	}

	tok, err := f.OAuth2Config(provider).Exchange(f.ClientContext(ctx), req.Code, oauth2.VerifierOption(rec.PKCEVerifier))
	if err != nil {
		return loginflow.RedirectResult{}, fmt.Errorf("%w: exchanging code: %w", serviceerr.ErrInvalidGrant, err)
	}
	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	verified, err := f.Verify(ctx, provider, tok, rec.Nonce)
	if err != nil {
		return loginflow.RedirectResult{}, err
	}

	stored, err := f.SaveTokens(ctx, verified, "", req.Code)
	if err != nil {
		return loginflow.RedirectResult{}, err
	}

	return loginflow.RedirectResult{
		Username: stored.Username,
		AuthCode: req.Code,
		WantsURL: rec.AdditionalData[dataWantsURL],
	}, nil
}
