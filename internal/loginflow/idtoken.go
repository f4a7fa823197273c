package loginflow

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// IDClaims are the ID token claims the adapter keeps.
type IDClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email"`
	AtHash            string `json:"at_hash,omitempty"`
}

// verifyAtHash checks the at_hash claim of a verified ID token against the
// access token issued with it.
func verifyAtHash(rawIDToken, accessToken, atHash string) error {
	idToken, err := jwt.ParseSigned(rawIDToken, signatureAlgorithms)
	if err != nil {
		return fmt.Errorf("parsing id token: %w", err)
	}

	var h hash.Hash
	switch alg := idToken.Headers[0].Algorithm; alg {
	case "RS256", "ES256", "PS256":
		h = sha256.New()
	case "RS384", "ES384", "PS384":
		h = sha512.New384()
	case "RS512", "ES512", "PS512", "EdDSA":
		h = sha512.New()
	default:
		return fmt.Errorf("oidc: unsupported signing algorithm %q", alg)
	}

	h.Write([]byte(accessToken)) // NOSONAR
	sum := h.Sum(nil)[:h.Size()/2]
	if base64.RawURLEncoding.EncodeToString(sum) != atHash {
		return serviceerr.ErrInvalidAtHash
	}

	return nil
}

// storedClaims decodes an ID token that was verified before it was stored.
func storedClaims(rawIDToken string) (IDClaims, error) {
	idToken, err := jwt.ParseSigned(rawIDToken, signatureAlgorithms)
	if err != nil {
		return IDClaims{}, fmt.Errorf("parsing stored id token: %w", err)
	}

	var claims IDClaims
	if err := idToken.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return IDClaims{}, fmt.Errorf("decoding stored id token claims: %w", err)
	}

	return claims, nil
}
