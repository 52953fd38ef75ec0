package sso

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type resolverOptions struct {
	client                  *http.Client
	fetchTimeout            time.Duration
	clock                   clockwork.Clock
	logger                  hclog.Logger
	skipSignatureValidation bool
}

func resolverOptionsDefault() resolverOptions {
	return resolverOptions{
		fetchTimeout: DefaultMetadataFetchTimeout,
	}
}

func getResolverOptions(opt ...Option) resolverOptions {
	opts := resolverOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithMetadataHTTPClient provides an HTTP client used to fetch identity
// provider metadata documents, overriding the default pooled client.
func WithMetadataHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*resolverOptions); ok {
			o.client = client
		}
	}
}

// WithMetadataFetchTimeout overrides the default timeout applied to identity
// provider metadata fetches.
func WithMetadataFetchTimeout(timeout time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*resolverOptions); ok {
			o.fetchTimeout = timeout
		}
	}
}

// WithClock provides a clock used when validating assertion time conditions.
// It should only be overridden for testing.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*resolverOptions); ok {
			o.clock = clock
		}
	}
}

// WithLogger provides an hclog.Logger. Components default to hclog.Default()
// when no logger is provided.
func WithLogger(logger hclog.Logger) Option {
	return func(o interface{}) {
		switch o := o.(type) {
		case *resolverOptions:
			o.logger = logger
		case *authenticatorOptions:
			o.logger = logger
		}
	}
}

// InsecureSkipSignatureValidation disables signature validation of inbound
// SAML responses. This option must only be used for testing purposes.
func InsecureSkipSignatureValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*resolverOptions); ok {
			o.skipSignatureValidation = true
		}
	}
}

type authenticatorOptions struct {
	logger             hclog.Logger
	defaultRedirectURL string
	allowedDomains     []string
	firstNameAttribute string
	lastNameAttribute  string
}

func authenticatorOptionsDefault() authenticatorOptions {
	return authenticatorOptions{
		defaultRedirectURL: DefaultLandingURL,
		firstNameAttribute: DefaultFirstNameAttribute,
		lastNameAttribute:  DefaultLastNameAttribute,
	}
}

func getAuthenticatorOptions(opt ...Option) authenticatorOptions {
	opts := authenticatorOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithDefaultRedirectURL overrides the post-login landing page used when no
// safe relay state is provided.
func WithDefaultRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.defaultRedirectURL = u
		}
	}
}

// WithAllowedRedirectDomains provides the set of domains that client
// supplied relay state URLs may point at. Relay state targeting any other
// domain is ignored in favor of the default landing page.
func WithAllowedRedirectDomains(domains ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.allowedDomains = append(o.allowedDomains, domains...)
		}
	}
}

// WithNameAttributes overrides the assertion attribute names used to
// populate a provisioned user's first and last name.
func WithNameAttributes(first, last string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.firstNameAttribute = first
			o.lastNameAttribute = last
		}
	}
}
