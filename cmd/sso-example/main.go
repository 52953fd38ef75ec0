// Command sso-example runs a minimal web application demonstrating
// SAML2 single sign-on with just-in-time user provisioning.
package main

import (
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/saml-sso-example/handler"
	"github.com/hashicorp/saml-sso-example/session"
	"github.com/hashicorp/saml-sso-example/sso"
	"github.com/hashicorp/saml-sso-example/store"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "sso-example",
		Level: hclog.Info,
	})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	users, err := store.Open(cfg.DatabasePath, logger.Named("store"))
	if err != nil {
		logger.Error("failed to open user store", "error", err)
		os.Exit(1)
	}
	defer users.Close()

	sessions, err := session.NewManager(
		[]byte(cfg.SessionKey),
		strings.HasPrefix(cfg.BaseURL, "https://"),
		logger.Named("session"),
	)
	if err != nil {
		logger.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}

	registry, err := sso.NewRegistry(cfg.registrySettings()...)
	if err != nil {
		logger.Error("invalid identity provider settings", "error", err)
		os.Exit(1)
	}

	caPEM := ""
	if cfg.MetadataCAFile != "" {
		pem, err := os.ReadFile(cfg.MetadataCAFile)
		if err != nil {
			logger.Error("failed to read metadata CA file", "error", err)
			os.Exit(1)
		}
		caPEM = string(pem)
	}
	client, err := sso.NewHTTPClient(caPEM)
	if err != nil {
		logger.Error("failed to create metadata HTTP client", "error", err)
		os.Exit(1)
	}

	resolver, err := sso.NewResolver(registry,
		sso.WithMetadataHTTPClient(client),
		sso.WithMetadataFetchTimeout(cfg.fetchTimeout()),
		sso.WithLogger(logger.Named("resolver")),
	)
	if err != nil {
		logger.Error("failed to create resolver", "error", err)
		os.Exit(1)
	}

	auth, err := sso.NewAuthenticator(resolver, users,
		sso.WithAllowedRedirectDomains(cfg.AllowedRedirectDomains...),
		sso.WithLogger(logger.Named("sso")),
	)
	if err != nil {
		logger.Error("failed to create authenticator", "error", err)
		os.Exit(1)
	}

	mux, err := handler.New(handler.Config{
		Authenticator:     auth,
		Sessions:          sessions,
		IdentityProviders: registry.Names(),
		Logger:            logger.Named("http"),
	})
	if err != nil {
		logger.Error("failed to build HTTP surface", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening", "address", cfg.BindAddress, "idps", registry.Names())
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
