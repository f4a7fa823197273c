package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/auth-oidc/internal/state"
)

func TestRecord_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		timeCreated time.Time
		want        bool
	}{
		{name: "Fresh", timeCreated: now.Add(-time.Minute), want: false},
		{name: "Exactly max age", timeCreated: now.Add(-state.MaxAge), want: false},
		{name: "One second past max age", timeCreated: now.Add(-state.MaxAge - time.Second), want: true},
		{name: "Created in the future", timeCreated: now.Add(time.Hour), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := state.Record{ID: "s", TimeCreated: tt.timeCreated}
			assert.Equal(t, tt.want, rec.Expired(now))
		})
	}
}
