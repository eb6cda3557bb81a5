// Package origin decides whether an embedding page's origin is allowed to
// open a connection to a widget.
//
// An allow-list entry is either an exact hostname ("example.com") or a
// wildcard subdomain pattern ("*.example.com"). An empty allow-list admits
// every origin, which is the development-mode default for widgets that
// have not been locked to a domain yet.
package origin

import (
	"net/url"
	"strings"
)

// Validate reports whether the given origin (scheme://host[:port]) is
// admitted by the widget's allowed-domain list. Malformed origins are
// always denied. The check is pure: same inputs, same answer.
func Validate(origin string, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}

	host := Hostname(origin)
	if host == "" {
		return false
	}

	for _, entry := range allowedDomains {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// Hostname extracts the hostname from an origin string, or "" if the
// origin does not parse as an absolute URL.
func Hostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}
