package authcode_test

import (
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/loginflow/authcode"
	"github.com/openkcm/auth-oidc/internal/loginflow/flowtest"
	"github.com/openkcm/auth-oidc/internal/serviceerr"
	"github.com/openkcm/auth-oidc/internal/state"
	"github.com/openkcm/auth-oidc/internal/state/statemock"
	"github.com/openkcm/auth-oidc/internal/token"
	"github.com/openkcm/auth-oidc/internal/token/tokenmock"
)

const fingerprint = "browser-fingerprint"

var jdoe = flowtest.Identity{
	Subject:           "subject-jdoe",
	PreferredUsername: "jdoe",
	GivenName:         "John",
	FamilyName:        "Doe",
	Email:             "john@example.com",
}

type fixture struct {
	idp    *flowtest.IdP
	tokens *tokenmock.Repository
	states *statemock.Repository
	flow   loginflow.Flow
}

func newFixture(t *testing.T, tokenOpts ...tokenmock.RepositoryOption) fixture {
	t.Helper()

	idp := flowtest.NewIdP(t)
	tokens := tokenmock.NewInMemRepository(tokenOpts...)
	states := statemock.NewInMemRepository()

	flow, err := authcode.New(idp.Deps(tokens, states))
	require.NoError(t, err)

	return fixture{idp: idp, tokens: tokens, states: states, flow: flow}
}

// start begins a handshake and returns the query of the authorization URL.
func (f fixture) start(t *testing.T, wantsURL string) url.Values {
	t.Helper()

	res, err := f.flow.HandleRedirect(t.Context(), loginflow.RedirectRequest{
		WantsURL:    wantsURL,
		Fingerprint: fingerprint,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RedirectURL)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)

	return u.Query()
}

// authorize plays the IdP's part of a handshake for id and returns the code.
func (f fixture) authorize(query url.Values, id flowtest.Identity) string {
	const code = "auth-code-1"
	f.idp.AddCode(code, flowtest.Grant{
		Identity:      id,
		Nonce:         query.Get("nonce"),
		CodeChallenge: query.Get("code_challenge"),
	})

	return code
}

func TestNew_Validation(t *testing.T) {
	idp := flowtest.NewIdP(t)

	deps := idp.Deps(tokenmock.NewInMemRepository(), nil)
	_, err := authcode.New(deps)
	assert.ErrorIs(t, err, loginflow.ErrInvalidConfig, "state repository is required")

	deps = idp.Deps(tokenmock.NewInMemRepository(), statemock.NewInMemRepository())
	deps.Config.CallbackURL = ""
	_, err = authcode.New(deps)
	assert.ErrorIs(t, err, loginflow.ErrInvalidConfig, "callback URL is required")
}

func TestFlow_IdPs(t *testing.T) {
	f := newFixture(t)

	idps, err := f.flow.IdPs(t.Context(), "https://lms.example.com/course/view.php?id=3")
	require.NoError(t, err)
	require.Len(t, idps, 1)

	assert.Equal(t, "Test IdP", idps[0].Name)
	u, err := url.Parse(idps[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "lms.example.com", u.Host)
	assert.Equal(t, "/auth/oidc/", u.Path)
	assert.Equal(t, "loginpage", u.Query().Get("source"))
	assert.Equal(t, "https://lms.example.com/course/view.php?id=3", u.Query().Get("wantsurl"))
}

func TestFlow_StartHandshake(t *testing.T) {
	f := newFixture(t)

	query := f.start(t, "/my/")

	assert.Equal(t, flowtest.ClientID, query.Get("client_id"))
	assert.Equal(t, flowtest.CallbackURL, query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.Contains(t, query.Get("scope"), "openid")

	stored, ok := f.states.TStates()[query.Get("state")]
	require.True(t, ok, "state must be stored")
	assert.Equal(t, query.Get("nonce"), stored.Nonce)
	assert.Equal(t, fingerprint, stored.Fingerprint)
	assert.Equal(t, "/my/", stored.AdditionalData["wantsurl"])
	assert.NotEmpty(t, stored.PKCEVerifier)
	assert.WithinDuration(t, time.Now(), stored.TimeCreated, time.Minute)
}

func TestFlow_LoginPageHook(t *testing.T) {
	tests := []struct {
		name          string
		forceRedirect bool
		noRedirect    bool
		wantRedirect  bool
	}{
		{name: "No forced redirect", forceRedirect: false, wantRedirect: false},
		{name: "Forced redirect", forceRedirect: true, wantRedirect: true},
		{name: "Forced redirect suppressed", forceRedirect: true, noRedirect: true, wantRedirect: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := flowtest.NewIdP(t)
			states := statemock.NewInMemRepository()
			deps := idp.Deps(tokenmock.NewInMemRepository(), states)
			deps.Config.ForceRedirect = tt.forceRedirect

			flow, err := authcode.New(deps)
			require.NoError(t, err)

			res, err := flow.LoginPageHook(t.Context(), loginflow.LoginPageRequest{
				NoRedirect:  tt.noRedirect,
				Fingerprint: fingerprint,
			})
			require.NoError(t, err)

			if !tt.wantRedirect {
				assert.Empty(t, res.RedirectURL)
				assert.Zero(t, states.TLen())
				return
			}

			assert.Contains(t, res.RedirectURL, idp.URL()+"/oauth2/authorize")
			assert.Equal(t, 1, states.TLen())
		})
	}
}

func TestFlow_Login(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	query := f.start(t, "/my/")
	code := f.authorize(query, jdoe)

	res, err := f.flow.HandleRedirect(ctx, loginflow.RedirectRequest{
		Code:        code,
		State:       query.Get("state"),
		Fingerprint: fingerprint,
	})
	require.NoError(t, err)

	assert.Equal(t, loginflow.RedirectResult{Username: "jdoe", AuthCode: code, WantsURL: "/my/"}, res)
	assert.Zero(t, f.states.TLen(), "state must be consumed")

	records := f.tokens.TRecords()
	require.Len(t, records, 1)
	assert.Equal(t, jdoe.Subject, records[0].Subject)
	assert.Equal(t, "jdoe", records[0].OIDCUsername)
	assert.Equal(t, "access-"+jdoe.Subject, records[0].AccessToken)
	assert.False(t, records[0].Linked(), "the host links the record after login")

	ok, err := f.flow.UserLogin(ctx, "jdoe", "wrong-code")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.flow.UserLogin(ctx, "jdoe", code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.flow.UserLogin(ctx, "jdoe", code)
	require.NoError(t, err)
	assert.False(t, ok, "the code is a one-time password")

	info, err := f.flow.UserInfo(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "John", info.FirstName)
	assert.Equal(t, "john@example.com", info.Email)
}

func TestFlow_Login_ExistingRecordKeepsHostUsername(t *testing.T) {
	f := newFixture(t, tokenmock.WithRecord(token.Record{
		UserID:   7,
		Username: "john.doe",
		Subject:  jdoe.Subject,
	}))

	query := f.start(t, "")
	code := f.authorize(query, jdoe)

	res, err := f.flow.HandleRedirect(t.Context(), loginflow.RedirectRequest{
		Code:        code,
		State:       query.Get("state"),
		Fingerprint: fingerprint,
	})
	require.NoError(t, err)
	assert.Equal(t, "john.doe", res.Username)

	records := f.tokens.TRecords()
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].UserID)
	assert.Equal(t, code, records[0].AuthCode)
}

func errIs(target error) assert.ErrorAssertionFunc {
	return func(t assert.TestingT, err error, msgAndArgs ...any) bool {
		return assert.ErrorIs(t, err, target, msgAndArgs...)
	}
}

func TestFlow_HandleRedirect_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, f fixture) loginflow.RedirectRequest
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name: "IdP error",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				query := f.start(t, "")
				return loginflow.RedirectRequest{State: query.Get("state"), Error: "access_denied", ErrorDescription: "user cancelled"}
			},
			assertErr: errIs(serviceerr.ErrAccessDenied),
		},
		{
			name: "Missing state",
			setup: func(*testing.T, fixture) loginflow.RedirectRequest {
				return loginflow.RedirectRequest{Code: "code", Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrInvalidRequest),
		},
		{
			name: "Unknown state",
			setup: func(*testing.T, fixture) loginflow.RedirectRequest {
				return loginflow.RedirectRequest{Code: "code", State: "unknown", Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrInvalidRequest),
		},
		{
			name: "Expired state",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				require.NoError(t, f.states.Store(t.Context(), state.Record{
					ID:          "old-state",
					Fingerprint: fingerprint,
					TimeCreated: time.Now().Add(-state.MaxAge - time.Minute),
				}))
				return loginflow.RedirectRequest{Code: "code", State: "old-state", Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrStateExpired),
		},
		{
			name: "Fingerprint mismatch",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				query := f.start(t, "")
				code := f.authorize(query, jdoe)
				return loginflow.RedirectRequest{Code: code, State: query.Get("state"), Fingerprint: "another-browser"}
			},
			assertErr: errIs(serviceerr.ErrFingerprintMismatch),
		},
		{
			name: "Nonce mismatch",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				query := f.start(t, "")
				query.Set("nonce", "replayed-nonce")
				code := f.authorize(query, jdoe)
				return loginflow.RedirectRequest{Code: code, State: query.Get("state"), Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrNonceMismatch),
		},
		{
			name: "Invalid at_hash",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				f.idp.BreakAtHash = true
				query := f.start(t, "")
				code := f.authorize(query, jdoe)
				return loginflow.RedirectRequest{Code: code, State: query.Get("state"), Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrInvalidAtHash),
		},
		{
			name: "PKCE verifier mismatch",
			setup: func(t *testing.T, f fixture) loginflow.RedirectRequest {
				query := f.start(t, "")
				query.Set("code_challenge", "not-the-challenge")
				code := f.authorize(query, jdoe)
				return loginflow.RedirectRequest{Code: code, State: query.Get("state"), Fingerprint: fingerprint}
			},
			assertErr: errIs(serviceerr.ErrInvalidGrant),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.setup(t, f)

			res, err := f.flow.HandleRedirect(t.Context(), req)
			tt.assertErr(t, err)
			assert.Zero(t, res)

			assert.Empty(t, f.tokens.TRecords(), "no token record may be written")
			assert.Zero(t, f.states.TLen(), "the state must not be reusable")
		})
	}
}

func TestFlow_UserLogin_UnknownUser(t *testing.T) {
	f := newFixture(t)

	ok, err := f.flow.UserLogin(t.Context(), "nobody", "code")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.flow.UserLogin(t.Context(), "nobody", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlow_UserLogin_ConcurrentCodeAcceptedOnce(t *testing.T) {
	f := newFixture(t, tokenmock.WithRecord(token.Record{Username: "jdoe", Subject: jdoe.Subject, AuthCode: "one-time"}))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.flow.UserLogin(t.Context(), "jdoe", "one-time")
			assert.NoError(t, err)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	records := f.tokens.TRecords()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].AuthCode)
}

func TestFlow_Disconnect(t *testing.T) {
	f := newFixture(t, tokenmock.WithRecord(token.Record{UserID: 7, Username: "jdoe", Subject: jdoe.Subject}))

	require.NoError(t, f.flow.Disconnect(t.Context(), 7))
	assert.Empty(t, f.tokens.TRecords())
}
