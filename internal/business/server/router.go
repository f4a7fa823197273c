// Package server exposes the plugin to the host platform as an HTTP API.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openkcm/auth-oidc/internal/config"
	"github.com/openkcm/auth-oidc/internal/fingerprint"
	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/plugin"
)

// Plugin is the part of *plugin.Plugin the API serves.
type Plugin interface {
	IdPs(ctx context.Context, wantsURL string) ([]loginflow.IdP, error)
	LoginPageHook(ctx context.Context, req loginflow.LoginPageRequest) (loginflow.LoginPageResult, error)
	HandleRedirect(ctx context.Context, req loginflow.RedirectRequest) (loginflow.RedirectResult, error)
	Disconnect(ctx context.Context, userID int64) error
	UserLogin(ctx context.Context, username, password string) (bool, error)
	UserInfo(ctx context.Context, username string) (loginflow.UserInfo, error)
	UserAuthenticated(ctx context.Context, id plugin.Identity) error
	Cron(ctx context.Context) (int64, error)
}

var _ = Plugin(&plugin.Plugin{})

func newRouter(cfg *config.Config, hookSecret []byte, p Plugin) http.Handler {
	h := &hooks{plugin: p}

	r := mux.NewRouter()
	r.Use(newTraceMiddleware(cfg))

	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet).Name("ping")

	browser := r.PathPrefix("/auth/oidc").Subrouter()
	browser.Use(fingerprint.Middleware)
	browser.HandleFunc("/idps", h.idps).Methods(http.MethodGet).Name("idps")
	browser.HandleFunc("/loginpage", h.loginPage).Methods(http.MethodGet).Name("loginpage")
	browser.HandleFunc("/", h.redirect).Methods(http.MethodGet).Name("redirect")

	hookAPI := r.PathPrefix("/hooks").Subrouter()
	hookAPI.Use(hookAuthMiddleware(hookSecret))
	hookAPI.HandleFunc("/user-login", h.userLogin).Methods(http.MethodPost).Name("user-login")
	hookAPI.HandleFunc("/userinfo/{username}", h.userInfo).Methods(http.MethodGet).Name("userinfo")
	hookAPI.HandleFunc("/user-authenticated", h.userAuthenticated).Methods(http.MethodPost).Name("user-authenticated")
	hookAPI.HandleFunc("/disconnect", h.disconnect).Methods(http.MethodPost).Name("disconnect")
	hookAPI.HandleFunc("/cron", h.cron).Methods(http.MethodPost).Name("cron")

	return r
}
