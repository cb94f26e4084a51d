package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

// IdentRe matches valid identifiers used for instance and profile names.
// Must start with alphanumeric, followed by alphanumeric, dots, hyphens, or underscores.
var IdentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxIdentLen is the maximum length for identifiers.
const MaxIdentLen = 128

// Ident validates a string as a valid identifier (instance or profile name).
func Ident(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && IdentRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host,
// so a misconfigured endpoint fails before the first command is issued.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// WSURL is the websocket counterpart of HTTPURL.
func WSURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only ws/wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}
