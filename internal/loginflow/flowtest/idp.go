// Package flowtest provides an in-process identity provider for login flow
// tests.
package flowtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/oidc"
	"github.com/stretchr/testify/require"
)

const (
	ClientID     = "auth-oidc-test"
	ClientSecret = "client-secret"
	keyID        = "kid1"
)

// Identity is the user an issued ID token describes.
type Identity struct {
	Subject           string
	PreferredUsername string
	GivenName         string
	FamilyName        string
	Email             string
}

// Grant is what the IdP remembers about an authorization code.
type Grant struct {
	Identity

	Nonce         string
	CodeChallenge string
}

type user struct {
	password string
	identity Identity
}

// IdP answers discovery, JWKS and token requests. Codes and users have to be
// registered before a flow redeems them.
type IdP struct {
	Server *httptest.Server

	// BreakAtHash makes the token endpoint issue ID tokens whose at_hash does
	// not match the access token.
	BreakAtHash bool

	signer jose.Signer
	key    *rsa.PrivateKey

	mu    sync.Mutex
	codes map[string]Grant
	users map[string]user
}

func NewIdP(t *testing.T) *IdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.RS256)},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	idp := &IdP{
		signer: signer,
		key:    key,
		codes:  make(map[string]Grant),
		users:  make(map[string]user),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("GET /.well-known/jwks.json", idp.handleJWKS)
	mux.HandleFunc("POST /oauth2/token", idp.handleToken)

	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Server.Close)

	return idp
}

func (i *IdP) URL() string {
	return i.Server.URL
}

func (i *IdP) AddCode(code string, g Grant) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.codes[code] = g
}

func (i *IdP) AddUser(username, password string, id Identity) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.users[username] = user{password: password, identity: id}
}

// IDToken signs an ID token for id as the token endpoint would.
func (i *IdP) IDToken(t *testing.T, id Identity) string {
	t.Helper()

	raw, err := i.idToken(id, "", "access-token")
	require.NoError(t, err)

	return raw
}

func (i *IdP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(oidc.Configuration{
		Issuer:                           i.Server.URL,
		AuthorizationEndpoint:            i.Server.URL + "/oauth2/authorize",
		TokenEndpoint:                    i.Server.URL + "/oauth2/token",
		JwksURI:                          i.Server.URL + "/.well-known/jwks.json",
		IDTokenSigningAlgValuesSupported: []string{string(jose.RS256)},
	})
}

func (i *IdP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &i.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

func (i *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || clientSecret != ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	var (
		id    Identity
		nonce string
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		i.mu.Lock()
		grant, ok := i.codes[r.PostForm.Get("code")]
		delete(i.codes, r.PostForm.Get("code"))
		i.mu.Unlock()

		if !ok || !verifierMatches(grant.CodeChallenge, r.PostForm.Get("code_verifier")) {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		id, nonce = grant.Identity, grant.Nonce
	case "password":
		i.mu.Lock()
		u, ok := i.users[r.PostForm.Get("username")]
		i.mu.Unlock()

		if !ok || u.password != r.PostForm.Get("password") {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		id = u.identity
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	accessToken := "access-" + id.Subject
	hashed := accessToken
	if i.BreakAtHash {
		hashed = "something-else"
	}

	idToken, err := i.idToken(id, nonce, hashed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"refresh_token": "refresh-" + id.Subject,
		"id_token":      idToken,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "openid profile email",
	})
}

func (i *IdP) idToken(id Identity, nonce, accessToken string) (string, error) {
	now := time.Now()
	sum := sha256.Sum256([]byte(accessToken))

	return jwt.Signed(i.signer).
		Claims(jwt.Claims{
			Issuer:   i.Server.URL,
			Subject:  id.Subject,
			Audience: jwt.Audience{ClientID},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		}).
		Claims(map[string]any{
			"nonce":              nonce,
			"at_hash":            base64.RawURLEncoding.EncodeToString(sum[:sha256.Size/2]),
			"preferred_username": id.PreferredUsername,
			"given_name":         id.GivenName,
			"family_name":        id.FamilyName,
			"email":              id.Email,
		}).
		Serialize()
}

// verifierMatches checks an S256 code challenge. An empty challenge accepts
// any verifier.
func verifierMatches(challenge, verifier string) bool {
	if challenge == "" {
		return true
	}

	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
