// Package cmdutils wires the commands of auth-oidc: configuration loading,
// logging, telemetry and the status server around a business function.
package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-oidc/internal/config"
)

const (
	healthStatusTimeout = 5 * time.Second

	idpCheckName = "idp-discovery"
)

// configPaths are searched in order for config.yaml.
var configPaths = []string{
	"/etc/auth-oidc",
	"$HOME/.auth-oidc",
	".",
}

// BusinessFunc is the work a command performs once configured.
type BusinessFunc func(context.Context, *config.Config) error

// Runner prepares the process environment and runs a BusinessFunc.
type Runner func(context.Context, BusinessFunc, *config.Config) error

// CobraCommand builds a command that loads the configuration and runs fn
// through runner.
func CobraCommand(use, short, long, buildInfo string, runner Runner, fn BusinessFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(buildInfo, configPaths...)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := runner(cmd.Context(), fn, cfg); err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}
}

type runMode struct {
	telemetry    bool
	statusServer bool
}

var (
	serviceMode = runMode{telemetry: true, statusServer: true}
	jobMode     = runMode{}
)

// RunAsService runs fn with telemetry and a status server.
func RunAsService(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, serviceMode, fn, cfg)
}

// RunAsJob runs fn once with logging only.
func RunAsJob(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, jobMode, fn, cfg)
}

func run(ctx context.Context, mode runMode, fn BusinessFunc, cfg *config.Config) error {
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting auth-oidc",
		slog.Any("config", cfg),
		"login_flow", cfg.Plugin.LoginFlow,
		"state_store", cfg.Plugin.StateStore,
	)

	if mode.telemetry {
		err = otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
		if err != nil {
			return oops.In("main").Wrapf(err, "Failed to load the telemetry")
		}
	}

	if mode.statusServer {
		go func() {
			err := startStatusServer(ctx, cfg)
			if err != nil {
				slogctx.Error(ctx, "Failure on the status server", "error", err)
				_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	err = fn(ctx, cfg)
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to run auth-oidc")
	}

	return nil
}

func loadConfig(buildInfo string, paths ...string) (*config.Config, error) {
	cfg := &config.Config{}

	err := commoncfg.LoadConfig(cfg, map[string]any{}, paths...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	err = commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}

func startStatusServer(ctx context.Context, cfg *config.Config) error {
	checks, err := readinessOptions(cfg)
	if err != nil {
		return err
	}

	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)

	readiness := status.WithReadiness(
		health.NewHandler(
			health.NewChecker(checks...),
		),
	)

	err = status.Start(ctx, &cfg.BaseConfig, liveness, readiness)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}

// readinessOptions checks the token database and, when an issuer is
// configured, that its discovery document can be fetched.
func readinessOptions(cfg *config.Config) ([]health.Option, error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("making connection string from config: %w", err)
	}

	opts := []health.Option{
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithDatabaseChecker("pgx", connStr),
		health.WithStatusListener(statusListener),
	}

	if cfg.Plugin.IssuerURL != "" {
		opts = append(opts, health.WithCheck(idpDiscoveryCheck(http.DefaultClient, cfg.Plugin.IssuerURL)))
	}

	return opts, nil
}

func idpDiscoveryCheck(client *http.Client, issuerURL string) health.Check {
	url := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"

	return health.Check{
		Name: idpCheckName,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("building discovery request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("fetching discovery document: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("discovery document returned %s", resp.Status)
			}

			return nil
		},
	}
}

func statusListener(ctx context.Context, state health.State) {
	attrs := statusAttrs(state)
	if state.Status == health.StatusUp {
		slogctx.Info(ctx, "Readiness status changed", attrs...)
		return
	}

	slogctx.Warn(ctx, "Readiness status changed", attrs...)
}

// statusAttrs lists the overall status followed by one attribute per check,
// ordered by check name. Failing checks report their error.
func statusAttrs(state health.State) []any {
	names := make([]string, 0, len(state.CheckState))
	for name := range state.CheckState {
		names = append(names, name)
	}
	slices.Sort(names)

	attrs := make([]any, 0, 2+2*len(names))
	attrs = append(attrs, "status", string(state.Status))

	for _, name := range names {
		check := state.CheckState[name]
		if check.Result != nil {
			attrs = append(attrs, name, check.Result.Error())
		} else {
			attrs = append(attrs, name, string(check.Status))
		}
	}

	return attrs
}
