package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_loadConfig(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, `
bind-address = ":9000"
base-url = "https://sp.example.com"
session-key = "secret"
metadata-fetch-timeout = 3
allowed-redirect-domains = ["trusted.example"]

[idp.okta]
metadata-url = "https://idp.example.com/metadata"

[idp.adfs]
entity-id = "https://sp.example.com/custom"
metadata-url = "https://adfs.example.com/metadata"
`)

	cfg, err := loadConfig(path)
	r.NoError(err)

	r.Equal(":9000", cfg.BindAddress)
	r.Equal("https://sp.example.com", cfg.BaseURL)
	r.Equal(3*time.Second, cfg.fetchTimeout())
	r.Equal([]string{"trusted.example"}, cfg.AllowedRedirectDomains)

	settings := cfg.registrySettings()
	r.Len(settings, 2)

	names := []string{settings[0].Name, settings[1].Name}
	r.ElementsMatch([]string{"okta", "adfs"}, names)
}

func Test_loadConfig_Defaults(t *testing.T) {
	r := require.New(t)

	path := writeConfig(t, `
session-key = "secret"

[idp.okta]
metadata-url = "https://idp.example.com/metadata"
`)

	cfg, err := loadConfig(path)
	r.NoError(err)

	r.Equal(defaultBindAddress, cfg.BindAddress)
	r.Equal(defaultBaseURL, cfg.BaseURL)
	r.Equal(defaultDatabasePath, cfg.DatabasePath)
	r.Equal(defaultFetchTimeout, cfg.fetchTimeout())
}

func Test_loadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		err     string
	}{
		{
			name: "When the session key is missing",
			content: `
[idp.okta]
metadata-url = "https://idp.example.com/metadata"
`,
			err: "session-key must be set",
		},
		{
			name:    "When no identity providers are configured",
			content: `session-key = "secret"`,
			err:     "at least one [idp.<name>] block",
		},
		{
			name:    "When the file is not TOML",
			content: `{"not": "toml"}`,
			err:     "failed to parse config file",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := require.New(t)

			_, err := loadConfig(writeConfig(t, c.content))
			r.Error(err)
			r.ErrorContains(err, c.err)
		})
	}
}
