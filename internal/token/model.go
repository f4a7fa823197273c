package token

import (
	"time"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

// Record links a local user account to the tokens issued by the identity provider.
type Record struct {
	ID           int64     // Surrogate key
	UserID       int64     // Host user ID, zero until the record is linked to a user
	Username     string    // Host username
	Subject      string    // Subject claim of the remote identity
	OIDCUsername string    // Username as reported by the identity provider
	Scope        string    // Scope granted by the identity provider
	AuthCode     string    // Last authorization code, a one-shot login secret
	AccessToken  string    // Access token from the identity provider
	RefreshToken string    // Refresh token from the identity provider
	IDToken      string    // Raw ID token from the identity provider
	Expiry       time.Time // Expiry time of the access token
}

// Linked reports whether the record carries a host user ID.
func (r Record) Linked() bool {
	return r.UserID != 0
}

// Identity is a user the host has successfully authenticated.
type Identity struct {
	UserID   int64
	Username string
}

// Validate rejects identities that would unlink a record or blank its username.
func (i Identity) Validate() error {
	if i.UserID <= 0 {
		return &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "user ID must be positive"}
	}

	if i.Username == "" {
		return &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "username is required"}
	}

	return nil
}
