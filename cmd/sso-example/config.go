package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hashicorp/saml-sso-example/sso"
)

const (
	defaultBindAddress  = ":8000"
	defaultBaseURL      = "http://localhost:8000"
	defaultDatabasePath = "sso-example.db"
	defaultFetchTimeout = 10 * time.Second
)

// config is the on-disk configuration format for the server.
type config struct {
	BindAddress  string `toml:"bind-address"`
	BaseURL      string `toml:"base-url"`
	SessionKey   string `toml:"session-key"`
	DatabasePath string `toml:"database-path"`

	// MetadataFetchTimeoutSeconds bounds every identity provider metadata
	// fetch.
	MetadataFetchTimeoutSeconds int `toml:"metadata-fetch-timeout"`

	// MetadataCAFile optionally points at a PEM bundle trusted for metadata
	// fetches, for identity providers served under a private CA.
	MetadataCAFile string `toml:"metadata-ca-file"`

	// AllowedRedirectDomains lists the hosts relay state URLs may point at.
	AllowedRedirectDomains []string `toml:"allowed-redirect-domains"`

	IdentityProviders map[string]idpConfig `toml:"idp"`
}

type idpConfig struct {
	// EntityID is optional; it defaults to the assertion consumer service
	// URL computed at request time.
	EntityID    string `toml:"entity-id"`
	MetadataURL string `toml:"metadata-url"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{
		BindAddress:  defaultBindAddress,
		BaseURL:      defaultBaseURL,
		DatabasePath: defaultDatabasePath,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if cfg.SessionKey == "" {
		return nil, errors.New("session-key must be set")
	}
	if len(cfg.IdentityProviders) == 0 {
		return nil, errors.New("at least one [idp.<name>] block must be configured")
	}

	return cfg, nil
}

func (c *config) fetchTimeout() time.Duration {
	if c.MetadataFetchTimeoutSeconds <= 0 {
		return defaultFetchTimeout
	}
	return time.Duration(c.MetadataFetchTimeoutSeconds) * time.Second
}

func (c *config) registrySettings() []sso.IdentityProviderSettings {
	settings := make([]sso.IdentityProviderSettings, 0, len(c.IdentityProviders))
	for name, idp := range c.IdentityProviders {
		settings = append(settings, sso.IdentityProviderSettings{
			Name:        name,
			EntityID:    idp.EntityID,
			MetadataURL: idp.MetadataURL,
		})
	}
	return settings
}
