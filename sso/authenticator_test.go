package sso_test

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/saml-sso-example/sso"
	"github.com/hashicorp/saml-sso-example/store"
	testprovider "github.com/hashicorp/saml-sso-example/test"
)

const (
	testACSURL   = "http://sp.example.com/saml/sso/test-idp"
	testAudience = "http://sp.example.com/saml/sso/test-idp"
)

func testAuthenticator(t *testing.T, tp *testprovider.TestProvider, opt ...sso.Option) (*sso.Authenticator, *store.Users) {
	t.Helper()
	r := require.New(t)

	registry, err := sso.NewRegistry(sso.IdentityProviderSettings{
		Name:        "test-idp",
		MetadataURL: tp.MetadataURL(),
	})
	r.NoError(err)

	resolver, err := sso.NewResolver(registry)
	r.NoError(err)

	users, err := store.Open(filepath.Join(t.TempDir(), "users.db"), hclog.NewNullLogger())
	r.NoError(err)
	t.Cleanup(func() { users.Close() })

	opt = append(opt, sso.WithLogger(hclog.NewNullLogger()))
	auth, err := sso.NewAuthenticator(resolver, users, opt...)
	r.NoError(err)

	return auth, users
}

func Test_Authenticator_InitiateLogin(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	auth, _ := testAuthenticator(t, tp)

	redirect, err := auth.InitiateLogin(context.Background(), "test-idp", testOrigin(t), "/reports")
	r.NoError(err)

	// The browser is sent to the IdP's SSO endpoint carrying the encoded
	// request and the relay state.
	r.Contains(redirect.URL, tp.ServerURL()+"/saml/login")
	r.Contains(redirect.URL, "SAMLRequest=")
	r.Contains(redirect.URL, "RelayState=%2Freports")
}

func Test_Authenticator_InitiateLogin_UnknownIdentityProvider(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	auth, _ := testAuthenticator(t, tp)

	_, err := auth.InitiateLogin(context.Background(), "nope", testOrigin(t), "")
	r.ErrorIs(err, sso.ErrUnknownIdentityProvider)
}

func Test_Authenticator_HandleResponse_ProvisionsNewUser(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	auth, users := testAuthenticator(t, tp)

	resp := tp.SignedResponse(t, testACSURL, testAudience,
		testprovider.WithSubject("alice@example.com"),
		testprovider.WithName("Alice", "Doe"),
	)

	result, err := auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), resp, "")
	r.NoError(err)

	r.True(result.Provisioned)
	r.Equal("alice@example.com", result.User.Email)
	r.Equal("Alice", result.User.FirstName)
	r.Equal("Doe", result.User.LastName)
	r.Equal(sso.DefaultLandingURL, result.RedirectURL)
	r.Equal([]string{"Alice"}, result.Identity.Attributes["FirstName"])

	stored, err := users.Get(context.Background(), "alice@example.com")
	r.NoError(err)
	r.Equal("Alice", stored.FirstName)
}

func Test_Authenticator_HandleResponse_ExistingUser(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	auth, _ := testAuthenticator(t, tp)

	first := tp.SignedResponse(t, testACSURL, testAudience,
		testprovider.WithSubject("alice@example.com"),
		testprovider.WithName("Alice", "Doe"),
	)
	result, err := auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), first, "")
	r.NoError(err)
	r.True(result.Provisioned)

	// A later login for the same subject must not create a duplicate, even
	// when the IdP now asserts different display attributes.
	second := tp.SignedResponse(t, testACSURL, testAudience,
		testprovider.WithSubject("alice@example.com"),
		testprovider.WithName("Alicia", "Doe"),
	)
	result, err = auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), second, "")
	r.NoError(err)
	r.False(result.Provisioned)
	r.Equal("Alice", result.User.FirstName)
}

func Test_Authenticator_HandleResponse_ValidationFailures(t *testing.T) {
	tp := testprovider.StartTestProvider(t)
	auth, users := testAuthenticator(t, tp)

	cases := []struct {
		name     string
		response string
	}{
		{
			name: "When the signature does not cover the document",
			response: tp.SignedResponse(t, testACSURL, testAudience,
				testprovider.WithTamperedSignature(),
			),
		},
		{
			name: "When the response is unsigned",
			response: tp.SignedResponse(t, testACSURL, testAudience,
				testprovider.WithoutSignature(),
			),
		},
		{
			name: "When the assertion has expired",
			response: tp.SignedResponse(t, testACSURL, testAudience,
				testprovider.WithExpiredConditions(),
			),
		},
		{
			name: "When the assertion is for a different audience",
			response: tp.SignedResponse(t, testACSURL, testAudience,
				testprovider.WithAudience("https://other.example.com"),
			),
		},
		{
			name:     "When the response is not XML",
			response: base64.StdEncoding.EncodeToString([]byte("not an XML document")),
		},
		{
			name:     "When the response is not base64",
			response: "%%% not base64 %%%",
		},
		{
			name:     "When the response is empty",
			response: "",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := require.New(t)

			// Every cause collapses into the same validation error and no
			// user is provisioned.
			_, err := auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), c.response, "")
			r.ErrorIs(err, sso.ErrResponseValidation)

			_, err = users.Get(context.Background(), "alice@example.com")
			r.ErrorIs(err, store.ErrNotFound)
		})
	}
}

func Test_Authenticator_HandleResponse_MissingSubject(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	auth, _ := testAuthenticator(t, tp)

	resp := tp.SignedResponse(t, testACSURL, testAudience,
		testprovider.WithoutSubject(),
	)

	_, err := auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), resp, "")
	r.ErrorIs(err, sso.ErrMissingSubject)
}

func Test_Authenticator_HandleResponse_RelayState(t *testing.T) {
	cases := []struct {
		name       string
		relayState string
		opts       []sso.Option
		want       string
	}{
		{
			name:       "When no relay state is supplied",
			relayState: "",
			want:       sso.DefaultLandingURL,
		},
		{
			name:       "When the relay state is a relative path",
			relayState: "/reports",
			want:       "/reports",
		},
		{
			name:       "When the relay state points off domain",
			relayState: "https://evil.example/phish",
			want:       sso.DefaultLandingURL,
		},
		{
			name:       "When the relay state points at an allowed domain",
			relayState: "https://trusted.example/app",
			opts:       []sso.Option{sso.WithAllowedRedirectDomains("trusted.example")},
			want:       "https://trusted.example/app",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := require.New(t)

			tp := testprovider.StartTestProvider(t)
			auth, _ := testAuthenticator(t, tp, c.opts...)

			resp := tp.SignedResponse(t, testACSURL, testAudience)

			result, err := auth.HandleResponse(context.Background(), "test-idp", testOrigin(t), resp, c.relayState)
			r.NoError(err)
			r.Equal(c.want, result.RedirectURL)
		})
	}
}
