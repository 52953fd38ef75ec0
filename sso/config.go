package sso

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/russellhaering/gosaml2/types"
)

// ServiceBinding defines the HTTP mechanism used to carry a SAML message.
type ServiceBinding string

const (
	ServiceBindingHTTPRedirect ServiceBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	ServiceBindingHTTPPost     ServiceBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
)

const (
	// DefaultMetadataFetchTimeout bounds the outbound metadata fetch on
	// every login and response-handling request.
	DefaultMetadataFetchTimeout = 10 * time.Second

	// DefaultLandingURL is where an authenticated user lands when no safe
	// relay state was supplied.
	DefaultLandingURL = "/user"

	// DefaultFirstNameAttribute and DefaultLastNameAttribute are the
	// assertion attribute names used for just-in-time provisioning.
	DefaultFirstNameAttribute = "FirstName"
	DefaultLastNameAttribute  = "LastName"
)

// IdentityProviderSettings describes one identity provider known to the
// service. Settings are provided at startup and are immutable at runtime.
type IdentityProviderSettings struct {
	// Name uniquely keys the identity provider within the registry.
	Name string

	// EntityID is the service provider entity ID to present to this
	// identity provider. When empty it defaults to the assertion consumer
	// service URL computed at request time.
	EntityID string

	// MetadataURL is the endpoint the identity provider serves its metadata
	// XML document on. (required)
	MetadataURL string
}

// Validate validates the identity provider settings.
func (s IdentityProviderSettings) Validate() error {
	const op = "sso.IdentityProviderSettings.Validate"

	var result *multierror.Error
	if s.Name == "" {
		result = multierror.Append(result, fmt.Errorf("%s: name not set: %w", op, ErrInvalidParameter))
	}
	if s.MetadataURL == "" {
		result = multierror.Append(result, fmt.Errorf("%s: metadata URL not set: %w", op, ErrInvalidParameter))
	} else if _, err := url.Parse(s.MetadataURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: invalid metadata URL: %w", op, err))
	}

	return result.ErrorOrNil()
}

// Registry holds the set of identity providers known to the service, keyed
// by name.
type Registry map[string]IdentityProviderSettings

// NewRegistry validates the provided settings and returns a registry keyed
// by identity provider name.
func NewRegistry(settings ...IdentityProviderSettings) (Registry, error) {
	const op = "sso.NewRegistry"

	r := make(Registry, len(settings))
	var result *multierror.Error
	for _, s := range settings {
		if err := s.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
			continue
		}
		if _, ok := r[s.Name]; ok {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate identity provider %q: %w", op, s.Name, ErrInvalidParameter))
			continue
		}
		r[s.Name] = s
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return r, nil
}

// Names returns the registered identity provider names.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// Endpoint is one assertion consumer service registration.
type Endpoint struct {
	URL     string
	Binding ServiceBinding
}

// ServiceProviderConfig is the per-request trust configuration assembled by
// the Resolver from an identity provider's settings, its fetched metadata
// and the current request's origin. It is constructed fresh on every login
// or response-handling request and never cached or persisted.
type ServiceProviderConfig struct {
	// IdentityProvider is the registry name this configuration was built for.
	IdentityProvider string

	// EntityID identifies this service provider to the identity provider.
	EntityID string

	// MetadataXML is the identity provider metadata document exactly as
	// fetched, kept inline.
	MetadataXML []byte

	// Metadata is the parsed identity provider metadata.
	Metadata *types.EntityDescriptor

	// AssertionConsumerServices lists every callback registration presented
	// in the service provider metadata: both URL schemes under both the
	// redirect and post bindings.
	AssertionConsumerServices []Endpoint

	// RequestACSURL is the assertion consumer service URL matching the
	// scheme of the request this configuration was built for.
	RequestACSURL string

	// Trust flags. Authn requests are not signed since this service does
	// not control both sides of the exchange; assertions must be signed but
	// the outer response envelope need not be; responses the service never
	// asked for (IdP-initiated flows) are accepted.
	SignAuthnRequests    bool
	SignLogoutRequests   bool
	WantAssertionsSigned bool
	WantResponseSigned   bool
	AllowUnsolicited     bool
}
