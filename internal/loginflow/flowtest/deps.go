package flowtest

import (
	"github.com/openkcm/auth-oidc/internal/config"
	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/state"
	"github.com/openkcm/auth-oidc/internal/token"
)

const CallbackURL = "https://lms.example.com/auth/oidc/"

// PluginConfig returns a plugin configuration pointing at the IdP.
func (i *IdP) PluginConfig() config.Plugin {
	return config.Plugin{
		IssuerURL:     i.URL(),
		CallbackURL:   CallbackURL,
		UsernameClaim: "preferred_username",
		ProviderName:  "Test IdP",
		ClientAuth: config.ClientAuth{
			Type:     "client_secret",
			ClientID: ClientID,
		},
	}
}

// Deps wires the IdP and the given repositories into flow dependencies.
func (i *IdP) Deps(tokens token.Repository, states state.Repository) loginflow.Deps {
	return loginflow.Deps{
		Config:       i.PluginConfig(),
		ClientSecret: ClientSecret,
		Tokens:       tokens,
		States:       states,
		HTTPClient:   i.Server.Client(),
	}
}
