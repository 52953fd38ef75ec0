package sso

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"
)

// Resolver assembles per-request service provider trust configurations for
// registered identity providers. The identity provider's metadata document
// is fetched on every resolution; metadata caching is deliberately left to
// the deployment in front of this service.
type Resolver struct {
	registry Registry
	client   *http.Client
	timeout  time.Duration
	clock    *dsig.Clock
	logger   hclog.Logger

	skipSignatureValidation bool
}

// NewResolver creates a Resolver over the given identity provider registry.
//
// Options:
// - WithMetadataHTTPClient
// - WithMetadataFetchTimeout
// - WithClock
// - WithLogger
// - InsecureSkipSignatureValidation
func NewResolver(registry Registry, opt ...Option) (*Resolver, error) {
	const op = "sso.NewResolver"

	if registry == nil {
		return nil, fmt.Errorf("%s: missing registry: %w", op, ErrInvalidParameter)
	}

	opts := getResolverOptions(opt...)

	client := opts.client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	logger := opts.logger
	if logger == nil {
		logger = hclog.Default().Named("sso.resolver")
	}

	// The validation clock stays nil unless a test clock was injected, so
	// the protocol library falls back to the real clock on its own.
	var clock *dsig.Clock
	if opts.clock != nil {
		clock = dsig.NewFakeClock(opts.clock)
	}

	return &Resolver{
		registry:                registry,
		client:                  client,
		timeout:                 opts.fetchTimeout,
		clock:                   clock,
		logger:                  logger,
		skipSignatureValidation: opts.skipSignatureValidation,
	}, nil
}

// Resolve builds the trust configuration for the named identity provider as
// seen from the given request origin. The origin supplies the host used to
// compute the assertion consumer service callbacks; both the http and https
// scheme variants are registered under both HTTP bindings since the
// identity provider may respond via either.
//
// An unknown name fails with ErrUnknownIdentityProvider before any network
// traffic. A failed or unparseable metadata fetch fails with
// ErrMetadataFetch.
func (r *Resolver) Resolve(ctx context.Context, idpName string, origin *url.URL) (*ServiceProviderConfig, error) {
	const op = "sso.Resolver.Resolve"

	switch {
	case idpName == "":
		return nil, fmt.Errorf("%s: missing identity provider name: %w", op, ErrInvalidParameter)
	case origin == nil || origin.Host == "":
		return nil, fmt.Errorf("%s: missing request origin: %w", op, ErrInvalidParameter)
	}

	settings, ok := r.registry[idpName]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, idpName, ErrUnknownIdentityProvider)
	}

	acsPath := fmt.Sprintf("/saml/sso/%s", url.PathEscape(idpName))
	acsURL := (&url.URL{Scheme: "http", Host: origin.Host, Path: acsPath}).String()
	httpsACSURL := (&url.URL{Scheme: "https", Host: origin.Host, Path: acsPath}).String()

	requestACS := acsURL
	if origin.Scheme == "https" {
		requestACS = httpsACSURL
	}

	entityID := settings.EntityID
	if entityID == "" {
		entityID = acsURL
	}

	raw, meta, err := r.fetchMetadata(ctx, settings.MetadataURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.logger.Debug("resolved identity provider configuration",
		"idp", idpName, "entity_id", entityID, "idp_entity_id", meta.EntityID)

	return &ServiceProviderConfig{
		IdentityProvider: idpName,
		EntityID:         entityID,
		MetadataXML:      raw,
		Metadata:         meta,
		AssertionConsumerServices: []Endpoint{
			{URL: acsURL, Binding: ServiceBindingHTTPRedirect},
			{URL: acsURL, Binding: ServiceBindingHTTPPost},
			{URL: httpsACSURL, Binding: ServiceBindingHTTPRedirect},
			{URL: httpsACSURL, Binding: ServiceBindingHTTPPost},
		},
		RequestACSURL:        requestACS,
		SignAuthnRequests:    false,
		SignLogoutRequests:   true,
		WantAssertionsSigned: true,
		WantResponseSigned:   false,
		AllowUnsolicited:     true,
	}, nil
}

// Provider binds a resolved configuration to the underlying SAML protocol
// library, which performs signature verification and condition validation.
func (r *Resolver) Provider(cfg *ServiceProviderConfig) (*saml2.SAMLServiceProvider, error) {
	const op = "sso.Resolver.Provider"

	if cfg == nil {
		return nil, fmt.Errorf("%s: missing configuration: %w", op, ErrInvalidParameter)
	}
	if cfg.Metadata == nil || cfg.Metadata.IDPSSODescriptor == nil {
		return nil, fmt.Errorf("%s: metadata carries no IDP SSO descriptor: %w", op, ErrMetadataFetch)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{},
	}
	for _, kd := range cfg.Metadata.IDPSSODescriptor.KeyDescriptors {
		switch kd.Use {
		case "", "signing":
			for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
				parsed, err := parseCert(xcert.Data)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				certStore.Roots = append(certStore.Roots, parsed)
			}
		}
	}

	ssoURL := ""
	for _, svc := range cfg.Metadata.IDPSSODescriptor.SingleSignOnServices {
		if svc.Binding == string(ServiceBindingHTTPRedirect) {
			ssoURL = svc.Location
			break
		}
		if ssoURL == "" {
			ssoURL = svc.Location
		}
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      ssoURL,
		IdentityProviderIssuer:      cfg.Metadata.EntityID,
		ServiceProviderIssuer:       cfg.EntityID,
		AssertionConsumerServiceURL: cfg.RequestACSURL,
		AudienceURI:                 cfg.EntityID,
		SignAuthnRequests:           cfg.SignAuthnRequests,
		IDPCertificateStore:         &certStore,
		SkipSignatureValidation:     r.skipSignatureValidation,
		AllowMissingAttributes:      true,
		Clock:                       r.clock,
	}, nil
}

func (r *Resolver) fetchMetadata(ctx context.Context, metadataURL string) ([]byte, *types.EntityDescriptor, error) {
	const op = "sso.Resolver.fetchMetadata"

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %s: %w", op, err, ErrMetadataFetch)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %s: %w", op, err, ErrMetadataFetch)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%s: unexpected status %d from %s: %w", op, res.StatusCode, metadataURL, ErrMetadataFetch)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to read metadata body: %s: %w", op, err, ErrMetadataFetch)
	}

	var meta types.EntityDescriptor
	if err := xml.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to parse metadata XML: %s: %w", op, err, ErrMetadataFetch)
	}

	return raw, &meta, nil
}

var certWhitespace = regexp.MustCompile(`\s+`)

func parseCert(cert string) (*x509.Certificate, error) {
	cert = certWhitespace.ReplaceAllString(cert, "")
	certBytes, err := base64.StdEncoding.DecodeString(cert)
	if err != nil {
		return nil, fmt.Errorf("cannot parse certificate: %s", err)
	}

	parsedCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	return parsedCert, nil
}
