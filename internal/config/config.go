// Package config handles loading and parsing application configuration.
// It supports two sources for the YAML file (in priority order):
//  1. An environment variable:  CONFIG_PATH=/path/to/config.yaml
//  2. A command-line flag:      --config=/path/to/config.yaml
//
// Without a file every value comes from the environment, falling back to
// the env-default tags below. Both binaries (the sign-up screen and the
// local accounts-api) share this one structure and read the sections they
// need.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration structure.
// Every field maps to a key in the YAML file AND can be overridden
// by the corresponding environment variable (env:"...").
type Config struct {
	// Env controls log format and verbosity.
	// Valid values: "dev", "staging", "prod"
	Env string `yaml:"env" env:"ENV" env-default:"dev"`

	// StoragePath is the filesystem path to the accounts SQLite .db file.
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"storage/accounts.db"`

	HTTPServer `yaml:"http_server"`
	Accounts   Accounts `yaml:"accounts"`
	OAuth      OAuth    `yaml:"oauth"`
	Token      Token    `yaml:"token"`
}

// HTTPServer holds settings for the local accounts-api.
type HTTPServer struct {
	Addr string `yaml:"address" env:"HTTP_SERVER_ADDR" env-default:"localhost:8082"`
	// APIKey, when set, must be passed as ?key= on every sign-up request.
	APIKey string `yaml:"api_key" env:"HTTP_SERVER_API_KEY"`
}

// Accounts configures the Account Service client used by the sign-up
// screen. Endpoint is the scheme and host of an identity-toolkit
// compatible backend.
type Accounts struct {
	Endpoint string        `yaml:"endpoint" env:"ACCOUNTS_ENDPOINT" env-default:"http://localhost:8082"`
	APIKey   string        `yaml:"api_key" env:"ACCOUNTS_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"ACCOUNTS_TIMEOUT" env-default:"15s"`
}

// OAuth is the static client registration for federated sign-in. An empty
// ClientID disables the "Sign in with Google" option.
type OAuth struct {
	ClientID     string        `yaml:"client_id" env:"OAUTH_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	RedirectURI  string        `yaml:"redirect_uri" env:"OAUTH_REDIRECT_URI" env-default:"http://127.0.0.1:8085/oauth2/callback"`
	AuthURL      string        `yaml:"auth_url" env:"OAUTH_AUTH_URL" env-default:"https://accounts.google.com/o/oauth2/v2/auth"`
	TokenURL     string        `yaml:"token_url" env:"OAUTH_TOKEN_URL" env-default:"https://oauth2.googleapis.com/token"`
	Scopes       []string      `yaml:"scopes" env:"OAUTH_SCOPES" env-separator:"," env-default:"openid,email,profile"`
	FlowTimeout  time.Duration `yaml:"flow_timeout" env:"OAUTH_FLOW_TIMEOUT" env-default:"5m"`
}

// Token configures id tokens issued by the local accounts-api.
type Token struct {
	Secret string        `yaml:"secret" env:"TOKEN_SECRET" env-default:"dev-secret-change-me"`
	Issuer string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"signup-accounts-api"`
	TTL    time.Duration `yaml:"ttl" env:"TOKEN_TTL" env-default:"1h"`
}

// IsProd reports whether the configuration targets production.
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// Load reads the YAML file at path (if path is non-empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config.Load: read env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config.Load: config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("config: unknown env %q (want dev, staging or prod)", c.Env)
	}
	if c.IsProd() && c.Token.Secret == "dev-secret-change-me" {
		return errors.New("config: token.secret must be set in prod")
	}
	if c.Token.TTL <= 0 {
		return errors.New("config: token.ttl must be positive")
	}
	return nil
}

// MustLoad reads, validates, and returns the application config.
// Functions prefixed with "Must" are allowed to fatal on failure: if this
// returns, the config is valid.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")

	if configPath == "" {
		flags := flag.String("config", "", "Path to the configuration YAML file")
		flag.Parse()
		configPath = *flags
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err.Error())
	}
	return cfg
}
