package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

const bearerPrefix = "Bearer "

// hookAuthMiddleware admits only requests carrying the host's bearer token.
func hookAuthMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || len(secret) == 0 || subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hooks"`)
				writeError(w, r, serviceerr.ErrUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
