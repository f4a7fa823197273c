//go:build integration

package integration_test

import (
	"context"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-oidc/internal/config"
	"github.com/openkcm/auth-oidc/internal/dbtest/postgrestest"
	"github.com/openkcm/auth-oidc/internal/dbtest/valkeytest"
	"github.com/openkcm/auth-oidc/internal/loginflow/flowtest"
)

const baseConfig = `
application:
  name: auth-oidc
  environment: integration
logger:
  level: debug
  format: json
plugin:
  loginFlow: authcode
  stateStore: sql
`

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Cfg            config.Config
	DB             *pgxpool.Pool

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// The config is read from $PWD/config.yaml, so every process runs in its
	// own subdirectory.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(baseConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	// Loading the base config applies the default values.
	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.Cfg.HTTP.Address = "unix://" + filepath.Join(istat.Procdir, exeName+".sock")
	istat.Cfg.HTTP.ShutdownTimeout = time.Second
	istat.Cfg.Plugin.ProviderName = "Integration IdP"
	istat.Cfg.Plugin.HookSecret = commoncfg.SourceRef{Source: "embedded", Value: hookSecret}
	istat.Cfg.Housekeeper.TriggerInterval = time.Second

	return istat
}

const hookSecret = "integration-hook-secret"

func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())

	istat.DB = pgClient
	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, func(ctx context.Context) {
		pgClient.Close()
		pgTerminate(ctx)
	})

	istat.Cfg.Database.Name = postgrestest.DBName
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBUser}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBPassword}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBHost}
	istat.Cfg.Database.Port = pgPort.Port()
	istat.Cfg.Database.SSLMode = postgrestest.DBSSLMode
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Plugin.StateStore = config.StateStoreValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", vkPort.Port())}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Prefix = "auth-oidc-integration"
}

// PrepareIdP points the plugin at a fake identity provider.
func (istat *infraStat) PrepareIdP(t *testing.T) *flowtest.IdP {
	t.Helper()

	idp := flowtest.NewIdP(t)

	pluginCfg := idp.PluginConfig()
	istat.Cfg.Plugin.IssuerURL = pluginCfg.IssuerURL
	istat.Cfg.Plugin.CallbackURL = pluginCfg.CallbackURL
	istat.Cfg.Plugin.ClientAuth = config.ClientAuth{
		Type:         "client_secret",
		ClientID:     flowtest.ClientID,
		ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: flowtest.ClientSecret},
	}

	return idp
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	writeConfig(t, istat.ConfigFilePath, istat.Cfg)
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}

func writeConfig(t *testing.T, path string, cfg config.Config) {
	t.Helper()

	cfgMap := make(map[any]any)
	err := mapstructure.Decode(cfg, &cfgMap)
	require.NoError(t, err, "failed to decode mapstructure")

	f, err := os.Create(path)
	require.NoError(t, err, "failed to create config file")
	defer f.Close()

	err = yaml.NewEncoder(f).Encode(cfgMap)
	require.NoError(t, err, "failed to write config")
}
