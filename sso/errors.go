package sso

import "errors"

var (
	// ErrInvalidParameter is returned when a required parameter is missing
	// or malformed.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownIdentityProvider is returned when the requested identity
	// provider name is not present in the registry. No network call is made
	// before this is reported.
	ErrUnknownIdentityProvider = errors.New("unknown identity provider")

	// ErrMetadataFetch is returned when the identity provider's metadata
	// document could not be retrieved or parsed.
	ErrMetadataFetch = errors.New("identity provider metadata unavailable")

	// ErrResponseValidation is returned for any trust, signature, structural
	// or timing failure while validating an inbound SAML response. Callers
	// must not surface the underlying cause to the client.
	ErrResponseValidation = errors.New("saml response validation failed")

	// ErrMissingSubject is returned when a validated assertion carries no
	// usable subject identifier.
	ErrMissingSubject = errors.New("subject missing from assertion")
)
