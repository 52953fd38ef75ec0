package sso

import (
	"net/url"
	"strings"
)

// IsSafeRedirect reports whether the candidate redirect target may be
// followed after login. Relay state values ride along in the identity
// provider's response and are attacker influenced, so only relative paths
// and absolute URLs whose host is explicitly allowed are followed.
//
// Backslashes are treated as path separators and scheme-relative targets
// ("//host/...") count as absolute, since browsers accept both forms.
func IsSafeRedirect(target string, allowedDomains []string) bool {
	if target == "" {
		return false
	}

	for _, r := range target {
		if r < ' ' || r == 0x7f {
			return false
		}
	}

	// Browsers fold backslashes into forward slashes before resolving, so
	// judge the folded form.
	normalized := strings.ReplaceAll(target, `\`, `/`)

	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}

	if !u.IsAbs() && u.Host == "" {
		// Purely relative target.
		return true
	}

	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()
	if host == "" {
		return false
	}
	for _, domain := range allowedDomains {
		if strings.EqualFold(host, domain) {
			return true
		}
	}

	return false
}
