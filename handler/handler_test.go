package handler_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/saml-sso-example/handler"
	"github.com/hashicorp/saml-sso-example/session"
	"github.com/hashicorp/saml-sso-example/sso"
	"github.com/hashicorp/saml-sso-example/store"
	testprovider "github.com/hashicorp/saml-sso-example/test"
)

const (
	testACSURL   = "http://sp.example.com/saml/sso/test-idp"
	testAudience = "http://sp.example.com/saml/sso/test-idp"
)

type testApp struct {
	mux      http.Handler
	sessions *session.Manager
	users    *store.Users
}

func startTestApp(t *testing.T, tp *testprovider.TestProvider) *testApp {
	t.Helper()
	r := require.New(t)

	logger := hclog.NewNullLogger()

	registry, err := sso.NewRegistry(sso.IdentityProviderSettings{
		Name:        "test-idp",
		MetadataURL: tp.MetadataURL(),
	})
	r.NoError(err)

	resolver, err := sso.NewResolver(registry, sso.WithLogger(logger))
	r.NoError(err)

	users, err := store.Open(filepath.Join(t.TempDir(), "users.db"), logger)
	r.NoError(err)
	t.Cleanup(func() { users.Close() })

	auth, err := sso.NewAuthenticator(resolver, users, sso.WithLogger(logger))
	r.NoError(err)

	sessions, err := session.NewManager([]byte("test-secret"), false, logger)
	r.NoError(err)

	mux, err := handler.New(handler.Config{
		Authenticator:     auth,
		Sessions:          sessions,
		IdentityProviders: registry.Names(),
		Logger:            logger,
	})
	r.NoError(err)

	return &testApp{mux: mux, sessions: sessions, users: users}
}

func Test_Index(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/", nil))

	r.Equal(http.StatusOK, w.Code)
	r.Contains(w.Body.String(), `/saml/login/test-idp`)
}

func Test_Login(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/saml/login/test-idp", nil))

	r.Equal(http.StatusFound, w.Code)

	location := w.Header().Get("Location")
	r.Contains(location, tp.ServerURL()+"/saml/login")
	r.Contains(location, "SAMLRequest=")

	// The SAML bindings spec wants caching suppressed on these redirects.
	r.Equal("no-cache, no-store", w.Header().Get("Cache-Control"))
	r.Equal("no-cache", w.Header().Get("Pragma"))
}

func Test_Login_UnknownIdentityProvider(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/saml/login/nope", nil))

	r.Equal(http.StatusInternalServerError, w.Code)
}

func Test_ACS(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	form := url.Values{
		"SAMLResponse": {tp.SignedResponse(t, testACSURL, testAudience,
			testprovider.WithSubject("alice@example.com"),
			testprovider.WithName("Alice", "Doe"),
		)},
	}

	req := httptest.NewRequest(http.MethodPost, "http://sp.example.com/saml/sso/test-idp",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, req)

	r.Equal(http.StatusFound, w.Code)
	r.Equal(sso.DefaultLandingURL, w.Header().Get("Location"))

	// The session established by the redirect authenticates the next hit.
	next := httptest.NewRequest(http.MethodGet, "http://sp.example.com/user", nil)
	for _, cookie := range w.Result().Cookies() {
		next.AddCookie(cookie)
	}

	w = httptest.NewRecorder()
	app.mux.ServeHTTP(w, next)
	r.Equal(http.StatusOK, w.Code)
	r.Contains(w.Body.String(), "alice@example.com")
	r.Contains(w.Body.String(), "Alice")
}

func Test_ACS_Failure(t *testing.T) {
	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	cases := []struct {
		name     string
		response string
	}{
		{
			name: "When the signature is tampered",
			response: tp.SignedResponse(t, testACSURL, testAudience,
				testprovider.WithTamperedSignature(),
			),
		},
		{
			name:     "When the response is garbage",
			response: "not a saml response",
		},
		{
			name:     "When the response is missing",
			response: "",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := require.New(t)

			form := url.Values{"SAMLResponse": {c.response}}
			req := httptest.NewRequest(http.MethodPost, "http://sp.example.com/saml/sso/test-idp",
				strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			w := httptest.NewRecorder()
			app.mux.ServeHTTP(w, req)

			// Same status and same body for every cause.
			r.Equal(http.StatusUnauthorized, w.Code)
			r.Contains(w.Body.String(), "Unauthorized")

			// No authenticated session results.
			next := httptest.NewRequest(http.MethodGet, "http://sp.example.com/user", nil)
			for _, cookie := range w.Result().Cookies() {
				next.AddCookie(cookie)
			}
			w = httptest.NewRecorder()
			app.mux.ServeHTTP(w, next)
			r.Equal(http.StatusUnauthorized, w.Code)
		})
	}
}

func Test_User_RequiresSession(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/user", nil))

	r.Equal(http.StatusUnauthorized, w.Code)
}

func Test_Logout(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	// Unauthenticated logout is rejected.
	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/logout", nil))
	r.Equal(http.StatusUnauthorized, w.Code)

	// Sign in, then log out.
	signIn := httptest.NewRequest(http.MethodPost, "http://sp.example.com/saml/sso/test-idp", nil)
	w = httptest.NewRecorder()
	r.NoError(app.sessions.SignIn(w, signIn, "alice@example.com", nil))

	logout := httptest.NewRequest(http.MethodGet, "http://sp.example.com/logout", nil)
	for _, cookie := range w.Result().Cookies() {
		logout.AddCookie(cookie)
	}

	w = httptest.NewRecorder()
	app.mux.ServeHTTP(w, logout)
	r.Equal(http.StatusFound, w.Code)
	r.Equal("/", w.Header().Get("Location"))
}

func Test_Metadata(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	app := startTestApp(t, tp)

	w := httptest.NewRecorder()
	app.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://sp.example.com/saml/metadata/test-idp", nil))

	r.Equal(http.StatusOK, w.Code)

	body := w.Body.String()
	r.Contains(body, `entityID="http://sp.example.com/saml/sso/test-idp"`)
	r.Contains(body, "https://sp.example.com/saml/sso/test-idp")
	r.Equal(4, strings.Count(body, "AssertionConsumerService"))
}