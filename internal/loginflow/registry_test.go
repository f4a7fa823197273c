package loginflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

type namedFlow struct {
	loginflow.Flow

	name string
}

func constructor(name string) loginflow.Constructor {
	return func(loginflow.Deps) (loginflow.Flow, error) {
		return namedFlow{name: name}, nil
	}
}

func TestRegistry_New(t *testing.T) {
	errBroken := errors.New("broken config")

	registry := loginflow.NewRegistry()
	registry.Register("authcode", constructor("authcode"))
	registry.Register("rocreds", constructor("rocreds"))
	registry.Register("broken", func(loginflow.Deps) (loginflow.Flow, error) { return nil, errBroken })

	tests := []struct {
		name      string
		flowName  string
		wantFlow  string
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name:      "Empty name selects the default flow",
			flowName:  "",
			wantFlow:  loginflow.DefaultFlow,
			assertErr: assert.NoError,
		},
		{
			name:      "Registered flow",
			flowName:  "rocreds",
			wantFlow:  "rocreds",
			assertErr: assert.NoError,
		},
		{
			name:     "Unknown flow",
			flowName: "implicit",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrUnknownLoginFlow, msgAndArgs...)
			},
		},
		{
			name:     "Constructor error",
			flowName: "broken",
			assertErr: func(t assert.TestingT, err error, msgAndArgs ...any) bool {
				return assert.ErrorIs(t, err, errBroken, msgAndArgs...)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, err := registry.New(tt.flowName, loginflow.Deps{})
			if !tt.assertErr(t, err) || err != nil {
				assert.Nil(t, flow)
				return
			}

			got, ok := flow.(namedFlow)
			require.True(t, ok)
			assert.Equal(t, tt.wantFlow, got.name)
		})
	}
}

func TestRegistry_Names(t *testing.T) {
	registry := loginflow.NewRegistry()
	registry.Register("rocreds", constructor("rocreds"))
	registry.Register("authcode", constructor("authcode"))

	assert.Equal(t, []string{"authcode", "rocreds"}, registry.Names())
}

func TestRegistry_EmptyRegistryHasNoDefault(t *testing.T) {
	_, err := loginflow.NewRegistry().New("", loginflow.Deps{})
	assert.ErrorIs(t, err, serviceerr.ErrUnknownLoginFlow)
}
