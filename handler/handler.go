// Package handler exposes the application's HTTP surface: the SSO login,
// assertion consumer and metadata endpoints plus the scaffolding pages
// around them. Handlers are constructed from their dependencies; there is
// no package-level state.
package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/saml-sso-example/session"
	"github.com/hashicorp/saml-sso-example/sso"
)

// Config carries the dependencies for the HTTP surface.
type Config struct {
	Authenticator *sso.Authenticator
	Sessions      *session.Manager

	// IdentityProviders is the list of registered identity provider names,
	// rendered on the index page.
	IdentityProviders []string

	Logger hclog.Logger
}

// Validate validates the handler configuration.
func (c *Config) Validate() error {
	const op = "handler.Config.Validate"

	switch {
	case c.Authenticator == nil:
		return fmt.Errorf("%s: missing authenticator", op)
	case c.Sessions == nil:
		return fmt.Errorf("%s: missing session manager", op)
	}
	return nil
}

// New builds the application router.
func New(cfg Config) (http.Handler, error) {
	const op = "handler.New"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.Default().Named("http")
	}

	mux := chi.NewRouter()

	mux.Get("/", IndexHandlerFunc(cfg.IdentityProviders))
	mux.Get("/user", UserHandlerFunc(cfg.Sessions))
	mux.Get("/logout", LogoutHandlerFunc(cfg.Sessions, cfg.Logger))

	mux.Route("/saml", func(mux chi.Router) {
		mux.Get("/login/{idp_name}", LoginHandlerFunc(cfg.Authenticator, cfg.Logger))
		mux.Get("/metadata/{idp_name}", MetadataHandlerFunc(cfg.Authenticator, cfg.Logger))
		mux.Post("/sso/{idp_name}", ACSHandlerFunc(cfg.Authenticator, cfg.Sessions, cfg.Logger))
	})

	return mux, nil
}

// requestOrigin reconstructs the scheme and host the client used to reach
// this request, honoring a reverse proxy's forwarded scheme.
func requestOrigin(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	return &url.URL{Scheme: scheme, Host: r.Host}
}
