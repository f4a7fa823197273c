//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-oidc/internal/dbtest/postgrestest"
)

func unixClient(address string) *http.Client {
	socket := strings.TrimPrefix(address, "unix://")

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", socket)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doRequest(t *testing.T, client *http.Client, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, "http://auth-oidc"+path, reader)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "integration-test")
	req.Header.Set("Authorization", "Bearer "+hookSecret)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestAPIServer(t *testing.T) {
	const cmdName = "api-server"

	ctx := t.Context()

	istat := initInfra(t, cmdName)
	defer istat.Close(ctx)

	istat.PreparePostgres(t)
	istat.PrepareValKey(t)
	idp := istat.PrepareIdP(t)
	istat.PrepareConfig(t)

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	t.Chdir(istat.Procdir)

	commandCtx, cancelCommand := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCommand()

	cmd := exec.CommandContext(commandCtx, filepath.Join(currdir, binary), cmdName)

	cmdOutPath := filepath.Join(currdir, cmdName+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	defer cmdOut.Close()

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)
	require.NoError(t, cmd.Start())

	// stop the service gracefully so that coverprofiles are written
	defer func() {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	}()

	client := unixClient(istat.Cfg.HTTP.Address)
	require.Eventually(t, func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://auth-oidc/ping", nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)

	t.Run("redirect starts a handshake", func(t *testing.T) {
		resp := doRequest(t, client, http.MethodGet, "/auth/oidc/?source=loginpage&wantsurl=%2Fcourse", nil)
		require.Equal(t, http.StatusFound, resp.StatusCode)

		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(location.String(), idp.URL()+"/oauth2/authorize"))
		assert.NotEmpty(t, location.Query().Get("state"))
		assert.NotEmpty(t, location.Query().Get("nonce"))
	})

	t.Run("idps", func(t *testing.T) {
		resp := doRequest(t, client, http.MethodGet, "/auth/oidc/idps", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			IdPs []struct {
				Name string `json:"name"`
			} `json:"idps"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.IdPs, 1)
		assert.Equal(t, "Integration IdP", body.IdPs[0].Name)
	})

	t.Run("user authenticated links the token record", func(t *testing.T) {
		resp := doRequest(t, client, http.MethodPost, "/hooks/user-authenticated", map[string]any{
			"userId":   2002,
			"username": postgrestest.UnlinkedUsername,
			"auth":     "oidc",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		var userID int64
		err := istat.DB.QueryRow(ctx, "SELECT user_id FROM oidc_tokens WHERE username = $1", postgrestest.UnlinkedUsername).Scan(&userID)
		require.NoError(t, err)
		assert.Equal(t, int64(2002), userID)
	})

	t.Run("cron", func(t *testing.T) {
		resp := doRequest(t, client, http.MethodPost, "/hooks/cron", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Deleted int64 `json:"deleted"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(0), body.Deleted)
	})

	t.Run("status server", func(t *testing.T) {
		for _, endpoint := range []string{"version", "probe/liveness", "probe/readiness"} {
			require.Eventually(t, func() bool {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:8888/"+endpoint, nil)
				if err != nil {
					return false
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return false
				}
				defer resp.Body.Close()

				return resp.StatusCode == http.StatusOK
			}, 10*time.Second, 100*time.Millisecond, endpoint)
		}
	})
}
