// Package rocreds implements the resource owner password credentials grant.
// The host's own login form collects the credentials, so the flow has no
// redirect endpoint and contributes nothing to the login page.
package rocreds

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

const Name = "rocreds"

type Flow struct {
	*loginflow.Base
}

var _ = loginflow.Flow(&Flow{})

func New(deps loginflow.Deps) (loginflow.Flow, error) {
	base, err := loginflow.NewBase(deps)
	if err != nil {
		return nil, err
	}

	return &Flow{Base: base}, nil
}

func (f *Flow) IdPs(context.Context, string) ([]loginflow.IdP, error) {
	return []loginflow.IdP{}, nil
}

func (f *Flow) LoginPageHook(context.Context, loginflow.LoginPageRequest) (loginflow.LoginPageResult, error) {
	return loginflow.LoginPageResult{}, nil
}

func (f *Flow) HandleRedirect(context.Context, loginflow.RedirectRequest) (loginflow.RedirectResult, error) {
	return loginflow.RedirectResult{}, serviceerr.ErrUnsupported
}

// UserLogin exchanges the credentials for tokens. Credentials the IdP rejects
// are a failed login, not an error.
func (f *Flow) UserLogin(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}

	provider, err := f.Provider(ctx)
	if err != nil {
		return false, err
	}

	tok, err := f.OAuth2Config(provider).PasswordCredentialsToken(f.ClientContext(ctx), username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == string(serviceerr.CodeInvalidGrant) {
			slogctx.Info(ctx, "Identity provider rejected the credentials", "username", username)
			return false, nil
		}

		return false, fmt.Errorf("requesting token: %w", err)
	}

	verified, err := f.Verify(ctx, provider, tok, "")
	if err != nil {
		return false, err
	}

	if _, err := f.SaveTokens(ctx, verified, username, ""); err != nil {
		return false, err
	}

	return true, nil
}
