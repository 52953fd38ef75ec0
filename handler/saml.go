package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/saml-sso-example/session"
	"github.com/hashicorp/saml-sso-example/sso"
)

// LoginHandlerFunc initiates SSO against the identity provider named in the
// URL. The client may supply a post-login destination via the "next" query
// parameter; it rides through the exchange as relay state and is judged by
// the redirect guard when it returns.
func LoginHandlerFunc(auth *sso.Authenticator, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idpName := chi.URLParam(r, "idp_name")

		redirect, err := auth.InitiateLogin(r.Context(), idpName, requestOrigin(r), r.URL.Query().Get("next"))
		if err != nil {
			logger.Error("failed to initiate SSO login", "idp", idpName, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		// Section 3.2.3.2 of the SAML bindings spec wants caching suppressed
		// on messages carried over HTTP, and enterprise IdP deployments tend
		// to rely on it.
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.Header().Set("Pragma", "no-cache")

		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}
}

// ACSHandlerFunc receives the identity provider's response. Any failure,
// whatever its cause, renders the same unauthorized page; detail goes to
// the server log only.
func ACSHandlerFunc(auth *sso.Authenticator, sessions *session.Manager, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idpName := chi.URLParam(r, "idp_name")

		if err := r.ParseForm(); err != nil {
			logger.Error("failed to parse SSO response form", "idp", idpName, "error", err)
			renderUnauthorized(w)
			return
		}

		result, err := auth.HandleResponse(
			r.Context(),
			idpName,
			requestOrigin(r),
			r.PostForm.Get("SAMLResponse"),
			r.PostForm.Get("RelayState"),
		)
		if err != nil {
			// Cause already logged with full detail by the authenticator.
			renderUnauthorized(w)
			return
		}

		if err := sessions.SignIn(w, r, result.User.Email, result.Identity.Attributes); err != nil {
			logger.Error("failed to establish session", "idp", idpName,
				"subject", result.User.Email, "error", err)
			renderUnauthorized(w)
			return
		}

		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	}
}

// MetadataHandlerFunc serves this service's metadata document for
// registration with the named identity provider.
func MetadataHandlerFunc(auth *sso.Authenticator, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idpName := chi.URLParam(r, "idp_name")

		doc, err := auth.ServiceProviderMetadata(r.Context(), idpName, requestOrigin(r))
		if err != nil {
			logger.Error("failed to render SP metadata", "idp", idpName, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		w.Write(doc)
	}
}

// LogoutHandlerFunc ends the session and sends the browser home. It
// requires an authenticated session.
func LogoutHandlerFunc(sessions *session.Manager, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := sessions.Current(r)
		if !ok {
			renderUnauthorized(w)
			return
		}

		if err := sessions.SignOut(w, r); err != nil {
			logger.Error("failed to clear session", "email", email, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		logger.Info("user signed out", "email", email)

		http.Redirect(w, r, "/", http.StatusFound)
	}
}
