// Package testprovider runs a fake SAML identity provider for tests: it
// serves metadata carrying a freshly generated signing certificate and
// mints signed responses against that certificate.
package testprovider

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
)

const (
	entityID = "http://test.idp"

	samlpNamespace = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlNamespace  = "urn:oasis:names:tc:SAML:2.0:assertion"

	statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"
	methodBearer  = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	formatEmail   = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
)

const metadataTemplate = `<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data>
          <ds:X509Certificate>%s</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%s/saml/login"/>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="%s/saml/login"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>`

// TestProvider is a fake identity provider backed by an httptest server.
type TestProvider struct {
	t      *testing.T
	server *httptest.Server

	keyStore dsig.X509KeyStore
	certB64  string

	metadataHits atomic.Int64

	clock clockwork.Clock
}

// StartTestProvider generates a signing key pair and starts the provider.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	r := require.New(t)

	keyStore := dsig.RandomKeyStoreForTest()
	_, certDER, err := keyStore.GetKeyPair()
	r.NoError(err)

	provider := &TestProvider{
		t:        t,
		keyStore: keyStore,
		certB64:  base64.StdEncoding.EncodeToString(certDER),
		clock:    clockwork.NewRealClock(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/metadata", provider.metadataHandler)
	mux.HandleFunc("/saml/login", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not implemented", http.StatusNotImplemented)
	})

	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.Close)

	return provider
}

// Close shuts the provider down.
func (p *TestProvider) Close() {
	p.server.Close()
}

// ServerURL returns the provider's base URL.
func (p *TestProvider) ServerURL() string {
	return p.server.URL
}

// MetadataURL returns the provider's metadata endpoint.
func (p *TestProvider) MetadataURL() string {
	return p.server.URL + "/saml/metadata"
}

// EntityID returns the provider's entity ID as carried in its metadata.
func (p *TestProvider) EntityID() string {
	return entityID
}

// MetadataHits reports how many times the metadata endpoint was fetched.
func (p *TestProvider) MetadataHits() int64 {
	return p.metadataHits.Load()
}

func (p *TestProvider) metadataHandler(w http.ResponseWriter, _ *http.Request) {
	p.metadataHits.Add(1)

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	fmt.Fprintf(w, metadataTemplate, entityID, p.certB64, p.server.URL, p.server.URL)
}

type responseOptions struct {
	subject      string
	firstName    string
	lastName     string
	audience     string
	expired      bool
	tampered     bool
	unsigned     bool
	emptySubject bool
}

// Option configures a minted response.
type Option func(*responseOptions)

// WithSubject sets the asserted subject NameID.
func WithSubject(subject string) Option {
	return func(o *responseOptions) { o.subject = subject }
}

// WithName sets the asserted FirstName and LastName attributes.
func WithName(first, last string) Option {
	return func(o *responseOptions) {
		o.firstName = first
		o.lastName = last
	}
}

// WithAudience overrides the audience restriction.
func WithAudience(audience string) Option {
	return func(o *responseOptions) { o.audience = audience }
}

// WithExpiredConditions dates the assertion's validity window in the past.
func WithExpiredConditions() Option {
	return func(o *responseOptions) { o.expired = true }
}

// WithTamperedSignature mutates the asserted subject after signing, so the
// signature no longer covers the document content.
func WithTamperedSignature() Option {
	return func(o *responseOptions) { o.tampered = true }
}

// WithoutSignature leaves the response unsigned.
func WithoutSignature() Option {
	return func(o *responseOptions) { o.unsigned = true }
}

// WithoutSubject leaves the NameID empty.
func WithoutSubject() Option {
	return func(o *responseOptions) { o.emptySubject = true }
}

// SignedResponse mints a base64-encoded SAML response addressed to the
// given assertion consumer service URL and audience.
func (p *TestProvider) SignedResponse(t *testing.T, acsURL, audience string, opt ...Option) string {
	t.Helper()
	r := require.New(t)

	opts := responseOptions{
		subject:   "alice@example.com",
		firstName: "Alice",
		lastName:  "Doe",
		audience:  audience,
	}
	for _, o := range opt {
		o(&opts)
	}

	// IDs have to be xsd:ID, which must start with a letter or underscore.
	responseID, err := uuid.GenerateUUID()
	r.NoError(err)
	assertionID, err := uuid.GenerateUUID()
	r.NoError(err)

	now := p.clock.Now().UTC()
	notBefore := now.Add(-5 * time.Minute)
	notOnOrAfter := now.Add(5 * time.Minute)
	if opts.expired {
		notBefore = now.Add(-2 * time.Hour)
		notOnOrAfter = now.Add(-1 * time.Hour)
	}

	doc := etree.NewDocument()

	response := doc.CreateElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlpNamespace)
	response.CreateAttr("xmlns:saml", samlNamespace)
	response.CreateAttr("ID", "_"+responseID)
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	response.CreateAttr("Destination", acsURL)

	issuer := response.CreateElement("saml:Issuer")
	issuer.SetText(entityID)

	status := response.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", statusSuccess)

	assertion := response.CreateElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlNamespace)
	assertion.CreateAttr("ID", "_"+assertionID)
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(time.RFC3339))

	assertionIssuer := assertion.CreateElement("saml:Issuer")
	assertionIssuer.SetText(entityID)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", formatEmail)
	if !opts.emptySubject {
		nameID.SetText(opts.subject)
	}

	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", methodBearer)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("Recipient", acsURL)
	confirmationData.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", notBefore.Format(time.RFC3339))
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	audienceRestriction := conditions.CreateElement("saml:AudienceRestriction")
	audienceEl := audienceRestriction.CreateElement("saml:Audience")
	audienceEl.SetText(opts.audience)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", now.Format(time.RFC3339))
	authnStatement.CreateAttr("SessionNotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	authnStatement.CreateAttr("SessionIndex", "_session-index-1")
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	classRef := authnContext.CreateElement("saml:AuthnContextClassRef")
	classRef.SetText("urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport")

	attributeStatement := assertion.CreateElement("saml:AttributeStatement")
	addAttribute(attributeStatement, "FirstName", opts.firstName)
	addAttribute(attributeStatement, "LastName", opts.lastName)

	final := response
	if !opts.unsigned {
		signingContext := dsig.NewDefaultSigningContext(p.keyStore)

		signed, err := signingContext.SignEnveloped(response)
		r.NoError(err)
		final = signed
	}

	if opts.tampered {
		tampered := final.FindElement("./Assertion/Subject/NameID")
		r.NotNil(tampered)
		tampered.SetText("mallory@example.com")
	}

	out := etree.NewDocument()
	out.SetRoot(final)
	raw, err := out.WriteToBytes()
	r.NoError(err)

	return base64.StdEncoding.EncodeToString(raw)
}

func addAttribute(statement *etree.Element, name, value string) {
	if value == "" {
		return
	}

	attribute := statement.CreateElement("saml:Attribute")
	attribute.CreateAttr("Name", name)
	attribute.CreateAttr("NameFormat", "urn:oasis:names:tc:SAML:2.0:attrname-format:basic")
	attributeValue := attribute.CreateElement("saml:AttributeValue")
	attributeValue.SetText(value)
}
