// Package loginflow defines the login flows the plugin can delegate the
// OpenID Connect protocol to, and the registry that selects one by name.
package loginflow

import (
	"context"
)

// IdP is an entry of the login page's identity provider list.
type IdP struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

type LoginPageRequest struct {
	// NoRedirect is set when the visitor explicitly asked for the local login form.
	NoRedirect  bool
	WantsURL    string
	Fingerprint string
}

type LoginPageResult struct {
	// RedirectURL is empty when the login page should be rendered.
	RedirectURL string
}

// RedirectRequest carries the query of a request to the redirect endpoint.
// Without Code and Error it starts a new handshake.
type RedirectRequest struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	WantsURL         string
	Source           string
	Fingerprint      string
}

type RedirectResult struct {
	// RedirectURL is set when the browser has to be sent to the IdP.
	RedirectURL string
	// Username and AuthCode are the credentials the host completes the login with.
	Username string
	AuthCode string
	WantsURL string
}

// UserInfo is the profile data the host copies into its user record.
type UserInfo struct {
	Subject   string `json:"subject"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

type Flow interface {
	IdPs(ctx context.Context, wantsURL string) ([]IdP, error)
	LoginPageHook(ctx context.Context, req LoginPageRequest) (LoginPageResult, error)
	HandleRedirect(ctx context.Context, req RedirectRequest) (RedirectResult, error)
	Disconnect(ctx context.Context, userID int64) error
	UserLogin(ctx context.Context, username, password string) (bool, error)
	UserInfo(ctx context.Context, username string) (UserInfo, error)
}
