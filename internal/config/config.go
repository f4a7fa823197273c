// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database    Database    `yaml:"database"`
	ValKey      ValKey      `yaml:"valkey"`
	Plugin      Plugin      `yaml:"plugin"`
	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	SSLMode  string              `yaml:"sslMode"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"auth-oidc"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

// StateStore selects the backend holding in-flight handshake state.
type StateStore string

const (
	StateStoreSQL    StateStore = "sql"
	StateStoreValKey StateStore = "valkey"
)

// Plugin configures the login adapter exposed to the host platform.
type Plugin struct {
	// LoginFlow names the registered login flow. Empty selects the default flow.
	LoginFlow  string     `yaml:"loginFlow" default:"authcode"`
	StateStore StateStore `yaml:"stateStore" default:"sql"`

	IssuerURL     string     `yaml:"issuerURL"`
	CallbackURL   string     `yaml:"callbackURL"`
	Scopes        []string   `yaml:"scopes"`
	UsernameClaim string     `yaml:"usernameClaim" default:"preferred_username"`
	ClientAuth    ClientAuth `yaml:"clientAuth"`

	// ForceRedirect sends every visitor of the login page straight to the IdP.
	ForceRedirect bool   `yaml:"forceRedirect"`
	ProviderName  string `yaml:"providerName" default:"OpenID Connect"`
	IconURL       string `yaml:"iconURL"`

	// HookSecret is the bearer token the host presents on the /hooks API.
	HookSecret commoncfg.SourceRef `yaml:"hookSecret"`

	// DiscoveryCacheTTL is how long a discovered provider document is reused.
	DiscoveryCacheTTL time.Duration `yaml:"discoveryCacheTTL" default:"1h"`
}

type ClientAuth struct {
	Type         string              `yaml:"type" default:"client_secret"`
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	MTLS         *commoncfg.MTLS     `yaml:"mTLS"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1m"`
}
