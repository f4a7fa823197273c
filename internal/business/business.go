package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/business/server"
	"github.com/openkcm/auth-oidc/internal/config"
	"github.com/openkcm/auth-oidc/internal/event"
	"github.com/openkcm/auth-oidc/internal/loginflow"
	"github.com/openkcm/auth-oidc/internal/loginflow/authcode"
	"github.com/openkcm/auth-oidc/internal/loginflow/rocreds"
	"github.com/openkcm/auth-oidc/internal/plugin"
	"github.com/openkcm/auth-oidc/internal/state"
	"github.com/openkcm/auth-oidc/internal/state/statesql"
	"github.com/openkcm/auth-oidc/internal/state/statevalkey"
	"github.com/openkcm/auth-oidc/internal/token/tokensql"
)

// Main serves the hook API.
func Main(ctx context.Context, cfg *config.Config) error {
	p, closeFn, err := initPlugin(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the plugin: %w", err)
	}
	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, p)
}

// Registry holds every login flow the plugin can be configured with.
func Registry() *loginflow.Registry {
	r := loginflow.NewRegistry()
	r.Register(authcode.Name, authcode.New)
	r.Register(rocreds.Name, rocreds.New)

	return r
}

func initPlugin(ctx context.Context, cfg *config.Config) (_ *plugin.Plugin, closeFn func(), _ error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	closers := []func(){db.Close}
	closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	p, err := newPlugin(ctx, cfg, db, &closers)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return p, closeFn, nil
}

func newPlugin(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, closers *[]func()) (*plugin.Plugin, error) {
	var states state.Repository

	switch cfg.Plugin.StateStore {
	case config.StateStoreSQL, "":
		states = statesql.NewRepository(db)
	case config.StateStoreValKey:
		valkeyClient, err := valkeyClientFromConfig(cfg.ValKey)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, valkeyClient.Close)

		states = statevalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix)
	default:
		return nil, fmt.Errorf("unknown state store %q", cfg.Plugin.StateStore)
	}

	httpClient, clientSecret, err := loadHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading http client: %w", err)
	}

	events, err := eventSink(cfg)
	if err != nil {
		return nil, err
	}

	meter := otel.Meter(
		"auth-oidc/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	p, err := plugin.New(Registry(), plugin.Deps{
		Deps: loginflow.Deps{
			Config:       cfg.Plugin,
			ClientSecret: clientSecret,
			Tokens:       tokensql.NewRepository(db),
			States:       states,
			HTTPClient:   httpClient,
		},
		Events:        events,
		PrunerOptions: []state.PrunerOption{state.WithMeter(meter)},
	})
	if err != nil {
		return nil, fmt.Errorf("creating plugin: %w", err)
	}

	slogctx.Info(ctx, "Plugin initialised", "loginFlow", cfg.Plugin.LoginFlow, "stateStore", cfg.Plugin.StateStore)

	return p, nil
}

// eventSink publishes login events to the audit log when one is configured.
func eventSink(cfg *config.Config) (event.Sink, error) {
	if cfg.Audit.Endpoint == "" {
		return event.LogSink{}, nil
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	return event.NewAuditSink(auditLogger), nil
}

func valkeyClientFromConfig(cfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

// loadHTTPClient returns the client talking to the IdP and, for client
// secret authentication, the secret the token requests carry.
func loadHTTPClient(cfg *config.Config) (*http.Client, string, error) {
	switch cfg.Plugin.ClientAuth.Type {
	case "mtls":
		if cfg.Plugin.ClientAuth.MTLS == nil {
			return nil, "", errors.New("failed to load mTLS config: mTLS is not configured")
		}

		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.Plugin.ClientAuth.MTLS)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load mTLS config: %w", err)
		}

		return &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}, "", nil
	case "client_secret":
		secret, err := commoncfg.LoadValueFromSourceRef(cfg.Plugin.ClientAuth.ClientSecret)
		if err != nil {
			return nil, "", fmt.Errorf("loading client secret: %w", err)
		}

		return http.DefaultClient, string(secret), nil
	case "insecure":
		return http.DefaultClient, "", nil
	default:
		return nil, "", errors.New("unknown Client Auth type")
	}
}
