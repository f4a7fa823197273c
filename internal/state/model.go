package state

import "time"

// MaxAge is how long a login handshake may stay open. Records older than
// this are rejected by the callback and removed by the pruner.
const MaxAge = 5 * time.Minute

// Record is the server-side half of an authorization request. It is created
// when the redirect to the identity provider starts and consumed by the
// callback that carries the same state value.
type Record struct {
	ID             string            `json:"id"`
	Nonce          string            `json:"nonce"`
	Fingerprint    string            `json:"fingerprint"`
	PKCEVerifier   string            `json:"pkceVerifier"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
	TimeCreated    time.Time         `json:"timeCreated"`
}

// Expired reports whether the record is older than MaxAge at now.
func (r Record) Expired(now time.Time) bool {
	return r.TimeCreated.Before(now.Add(-MaxAge))
}
