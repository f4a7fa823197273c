package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/fingerprint"
	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/plugin"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

type hooks struct {
	plugin Plugin
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type idpsResponse struct {
	IdPs []loginflow.IdP `json:"idps"`
}

type redirectResponse struct {
	Username string `json:"username"`
	AuthCode string `json:"authCode"`
	WantsURL string `json:"wantsUrl,omitempty"`
}

type userLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userLoginResponse struct {
	Authenticated bool `json:"authenticated"`
}

type userAuthenticatedRequest struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Auth     string `json:"auth"`
}

type disconnectRequest struct {
	UserID int64 `json:"userId"`
}

type cronResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *hooks) idps(w http.ResponseWriter, r *http.Request) {
	idps, err := h.plugin.IdPs(r.Context(), r.URL.Query().Get("wantsurl"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if idps == nil {
		idps = []loginflow.IdP{}
	}

	writeJSON(w, r, http.StatusOK, idpsResponse{IdPs: idps})
}

func (h *hooks) loginPage(w http.ResponseWriter, r *http.Request) {
	fp, _ := fingerprint.ExtractFingerprint(r.Context())
	q := r.URL.Query()

	res, err := h.plugin.LoginPageHook(r.Context(), loginflow.LoginPageRequest{
		NoRedirect:  parseFlag(q.Get("noredirect")),
		WantsURL:    q.Get("wantsurl"),
		Fingerprint: fp,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.RedirectURL == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *hooks) redirect(w http.ResponseWriter, r *http.Request) {
	fp, _ := fingerprint.ExtractFingerprint(r.Context())
	q := r.URL.Query()

	res, err := h.plugin.HandleRedirect(r.Context(), loginflow.RedirectRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		WantsURL:         q.Get("wantsurl"),
		Source:           q.Get("source"),
		Fingerprint:      fp,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.RedirectURL != "" {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	writeJSON(w, r, http.StatusOK, redirectResponse{
		Username: res.Username,
		AuthCode: res.AuthCode,
		WantsURL: res.WantsURL,
	})
}

func (h *hooks) userLogin(w http.ResponseWriter, r *http.Request) {
	var req userLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ok, err := h.plugin.UserLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, userLoginResponse{Authenticated: ok})
}

func (h *hooks) userInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.plugin.UserInfo(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, info)
}

func (h *hooks) userAuthenticated(w http.ResponseWriter, r *http.Request) {
	var req userAuthenticatedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.plugin.UserAuthenticated(r.Context(), plugin.Identity{
		UserID:     req.UserID,
		Username:   req.Username,
		AuthMethod: req.Auth,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *hooks) disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.plugin.Disconnect(r.Context(), req.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *hooks) cron(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.plugin.Cron(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, cronResponse{Deleted: deleted})
}

// parseFlag accepts the host's "1" as well as boolean literals.
func parseFlag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, r, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "invalid JSON body"})
		return false
	}

	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var svcErr *serviceerr.Error
	if !errors.As(err, &svcErr) {
		slogctx.Error(ctx, "Hook failed", "error", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: string(serviceerr.CodeServerError)})

		return
	}

	status := svcErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Hook failed", "error", err)
	} else {
		slogctx.Info(ctx, "Hook rejected the request", "error", err)
	}

	writeJSON(w, r, status, errorResponse{Error: string(svcErr.Err), ErrorDescription: svcErr.Description})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(r.Context(), "Failed to write response", "error", err)
	}
}
