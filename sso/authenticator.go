package sso

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
	saml2 "github.com/russellhaering/gosaml2"

	"github.com/hashicorp/saml-sso-example/store"
)

// Identity is the identity claim extracted from a validated assertion.
type Identity struct {
	// Subject is the assertion's NameID text and doubles as the local
	// user's email.
	Subject string

	FirstName string
	LastName  string

	// Attributes is the full attribute bag asserted by the identity
	// provider.
	Attributes map[string][]string
}

// LoginRedirect describes where to send the browser to initiate a login.
type LoginRedirect struct {
	// URL carries the encoded authn request to the identity provider's
	// single sign-on endpoint.
	URL string
}

// Result is the outcome of a successfully handled SSO response.
type Result struct {
	User     *store.User
	Identity Identity

	// Provisioned is true when this login created the user.
	Provisioned bool

	// RedirectURL is where the browser should land: the relay state target
	// when it passed the redirect guard, the default landing page otherwise.
	RedirectURL string
}

// Authenticator orchestrates the SAML login exchange: it initiates authn
// requests, validates identity provider responses, provisions users just in
// time and decides the post-login redirect. All dependencies are injected;
// there is no ambient state.
type Authenticator struct {
	resolver *Resolver
	users    *store.Users
	logger   hclog.Logger

	defaultRedirectURL string
	allowedDomains     []string
	firstNameAttribute string
	lastNameAttribute  string
}

// NewAuthenticator creates an Authenticator over the given resolver and
// user store.
//
// Options:
// - WithLogger
// - WithDefaultRedirectURL
// - WithAllowedRedirectDomains
// - WithNameAttributes
func NewAuthenticator(resolver *Resolver, users *store.Users, opt ...Option) (*Authenticator, error) {
	const op = "sso.NewAuthenticator"

	switch {
	case resolver == nil:
		return nil, fmt.Errorf("%s: missing resolver: %w", op, ErrInvalidParameter)
	case users == nil:
		return nil, fmt.Errorf("%s: missing user store: %w", op, ErrInvalidParameter)
	}

	opts := getAuthenticatorOptions(opt...)

	logger := opts.logger
	if logger == nil {
		logger = hclog.Default().Named("sso")
	}

	return &Authenticator{
		resolver:           resolver,
		users:              users,
		logger:             logger,
		defaultRedirectURL: opts.defaultRedirectURL,
		allowedDomains:     opts.allowedDomains,
		firstNameAttribute: opts.firstNameAttribute,
		lastNameAttribute:  opts.lastNameAttribute,
	}, nil
}

// InitiateLogin resolves the named identity provider and builds the
// redirect that carries the authn request to it. RelayState is passed
// through opaquely and will be judged by the redirect guard when it comes
// back. Failures on this path are configuration errors; no trust decision
// has been made yet, so callers may surface them as server errors.
func (a *Authenticator) InitiateLogin(ctx context.Context, idpName string, origin *url.URL, relayState string) (*LoginRedirect, error) {
	const op = "sso.Authenticator.InitiateLogin"

	cfg, err := a.resolver.Resolve(ctx, idpName, origin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provider, err := a.resolver.Provider(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	authURL, err := provider.BuildAuthURL(relayState)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build authn request: %w", op, err)
	}

	a.logger.Info("initiating SSO login", "idp", idpName)

	return &LoginRedirect{URL: authURL}, nil
}

// ServiceProviderMetadata resolves the named identity provider and renders
// this service's metadata document for registration with it.
func (a *Authenticator) ServiceProviderMetadata(ctx context.Context, idpName string, origin *url.URL) ([]byte, error) {
	const op = "sso.Authenticator.ServiceProviderMetadata"

	cfg, err := a.resolver.Resolve(ctx, idpName, origin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc, err := marshalSPMetadata(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc, nil
}

// HandleResponse validates an inbound SSO response for the named identity
// provider, provisions the user if this is their first login and decides
// where to send the browser next.
//
// Every validation failure is reported as ErrResponseValidation (or
// ErrMissingSubject) with full detail logged server-side only; callers must
// map any error to a uniform unauthorized outcome so failure causes cannot
// be distinguished from outside.
func (a *Authenticator) HandleResponse(ctx context.Context, idpName string, origin *url.URL, samlResponse, relayState string) (*Result, error) {
	const op = "sso.Authenticator.HandleResponse"

	cfg, err := a.resolver.Resolve(ctx, idpName, origin)
	if err != nil {
		a.logger.Error("failed to resolve identity provider for SSO response",
			"idp", idpName, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provider, err := a.resolver.Provider(cfg)
	if err != nil {
		a.logger.Error("failed to construct service provider client",
			"idp", idpName, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	identity, err := a.validate(provider, samlResponse)
	if err != nil {
		a.logger.Error("SSO response rejected", "idp", idpName, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, provisioned, err := a.users.CreateIfAbsent(ctx, store.User{
		Email:     identity.Subject,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
	})
	if err != nil {
		a.logger.Error("failed to provision user", "idp", idpName,
			"subject", identity.Subject, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redirectURL := a.defaultRedirectURL
	if relayState != "" {
		if IsSafeRedirect(relayState, a.allowedDomains) {
			redirectURL = relayState
		} else {
			a.logger.Warn("blocked potentially malicious relay state target",
				"idp", idpName, "subject", identity.Subject, "relay_state", relayState)
		}
	}

	a.logger.Info("user successfully authenticated via SSO",
		"idp", idpName, "subject", identity.Subject, "provisioned", provisioned)

	return &Result{
		User:        user,
		Identity:    *identity,
		Provisioned: provisioned,
		RedirectURL: redirectURL,
	}, nil
}

// validate hands the raw response to the protocol library and extracts the
// identity claim. The library performs signature verification against the
// metadata cert store and enforces the assertion's time and audience
// conditions.
func (a *Authenticator) validate(provider *saml2.SAMLServiceProvider, samlResponse string) (*Identity, error) {
	const op = "sso.Authenticator.validate"

	if samlResponse == "" {
		return nil, fmt.Errorf("%s: empty SAMLResponse: %w", op, ErrResponseValidation)
	}

	info, err := provider.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrResponseValidation)
	}

	if info.WarningInfo.InvalidTime {
		return nil, fmt.Errorf("%s: assertion outside its validity window: %w", op, ErrResponseValidation)
	}
	if info.WarningInfo.NotInAudience {
		return nil, fmt.Errorf("%s: assertion not addressed to this service: %w", op, ErrResponseValidation)
	}

	if info.NameID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}

	attributes := make(map[string][]string, len(info.Values))
	for name, attr := range info.Values {
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attributes[name] = values
	}

	return &Identity{
		Subject:    info.NameID,
		FirstName:  firstValue(attributes[a.firstNameAttribute]),
		LastName:   firstValue(attributes[a.lastNameAttribute]),
		Attributes: attributes,
	}, nil
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
