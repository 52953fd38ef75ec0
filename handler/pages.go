package handler

import (
	"html/template"
	"net/http"

	"github.com/hashicorp/saml-sso-example/session"
)

var (
	indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>SSO Example</title></head>
<body>
  <h1>SSO Example</h1>
  {{if .IdentityProviders}}
  <p>Sign in with:</p>
  <ul>
    {{range .IdentityProviders}}
    <li><a href="/saml/login/{{.}}">{{.}}</a></li>
    {{end}}
  </ul>
  {{else}}
  <p>No identity providers configured.</p>
  {{end}}
</body>
</html>
`))

	userTmpl = template.Must(template.New("user").Parse(`<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body>
  <h1>Signed in as {{.Email}}</h1>
  {{if .Attributes}}
  <h2>Asserted attributes</h2>
  <dl>
    {{range $name, $values := .Attributes}}
    <dt>{{$name}}</dt>
    {{range $values}}<dd>{{.}}</dd>{{end}}
    {{end}}
  </dl>
  {{end}}
  <p><a href="/logout">Sign out</a></p>
</body>
</html>
`))

	unauthorizedTmpl = template.Must(template.New("unauthorized").Parse(`<!DOCTYPE html>
<html>
<head><title>Unauthorized</title></head>
<body>
  <h1>Unauthorized</h1>
  <p>Sign in failed. <a href="/">Return home</a>.</p>
</body>
</html>
`))
)

// IndexHandlerFunc renders the landing page with a login link per
// configured identity provider.
func IndexHandlerFunc(identityProviders []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexTmpl.Execute(w, struct {
			IdentityProviders []string
		}{identityProviders})
	}
}

// UserHandlerFunc renders the authenticated landing page. It requires a
// session.
func UserHandlerFunc(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := sessions.Current(r)
		if !ok {
			renderUnauthorized(w)
			return
		}

		userTmpl.Execute(w, struct {
			Email      string
			Attributes map[string][]string
		}{email, sessions.Attributes(r)})
	}
}

// renderUnauthorized writes the uniform unauthorized page. Every SSO
// failure renders this same body so failure causes cannot be told apart
// from outside.
func renderUnauthorized(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	unauthorizedTmpl.Execute(w, nil)
}
