// Package session provides the browser-session layer: it records the
// authenticated user's email and the attribute bag asserted at login, and
// nothing else. The cookie store owns serialization and integrity.
package session

import (
	"encoding/gob"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
)

const (
	sessionName = "sso-example-session"

	emailKey      = "email"
	attributesKey = "saml_attributes"
)

func init() {
	gob.Register(map[string][]string{})
}

// Manager wraps a cookie session store with the handful of operations the
// application needs.
type Manager struct {
	store  *sessions.CookieStore
	logger hclog.Logger
}

// NewManager creates a session manager. The secret authenticates session
// cookies; secure controls the cookie's Secure flag and should be true
// whenever the application is served over https.
func NewManager(secret []byte, secure bool, logger hclog.Logger) (*Manager, error) {
	const op = "session.NewManager"

	if len(secret) == 0 {
		return nil, fmt.Errorf("%s: missing session secret", op)
	}
	if logger == nil {
		logger = hclog.Default().Named("session")
	}

	store := sessions.NewCookieStore(secret)
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Secure = secure
	store.Options.Path = "/"

	return &Manager{store: store, logger: logger}, nil
}

// SignIn marks the user authenticated and stores the asserted attribute bag.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, email string, attributes map[string][]string) error {
	const op = "session.Manager.SignIn"

	session, err := m.store.Get(r, sessionName)
	if err != nil {
		// A bad or stale cookie decodes to a fresh session; log and move on.
		m.logger.Warn("discarding undecodable session cookie", "error", err)
	}

	session.Values[emailKey] = email
	session.Values[attributesKey] = attributes

	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("%s: failed to save session: %w", op, err)
	}

	return nil
}

// SignOut clears the session.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) error {
	const op = "session.Manager.SignOut"

	session, _ := m.store.Get(r, sessionName)
	session.Options.MaxAge = -1
	session.Values = make(map[interface{}]interface{})

	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("%s: failed to clear session: %w", op, err)
	}

	return nil
}

// Current returns the authenticated user's email, if any.
func (m *Manager) Current(r *http.Request) (string, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return "", false
	}

	email, ok := session.Values[emailKey].(string)
	if !ok || email == "" {
		return "", false
	}

	return email, true
}

// Attributes returns the attribute bag recorded at login, or nil when the
// session is unauthenticated.
func (m *Manager) Attributes(r *http.Request) map[string][]string {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return nil
	}

	attributes, _ := session.Values[attributesKey].(map[string][]string)
	return attributes
}
