package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// SecurityValidator checks URLs against the configured policy before the
// browser opens them.
type SecurityValidator struct {
	config SecurityConfig
	logger zerolog.Logger
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator(config SecurityConfig, logger zerolog.Logger) *SecurityValidator {
	return &SecurityValidator{config: config, logger: logger}
}

// ValidateURL returns a *BrowserError when rawURL may not be opened.
func (sv *SecurityValidator) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("invalid URL: %s", rawURL),
		}
	}

	switch parsed.Scheme {
	case "http", "https":
	case "file":
		if !sv.config.AllowFileURLs {
			return sv.violation("file_url_blocked", rawURL, "file:// URLs are not allowed")
		}
		return nil
	case "about":
		return nil
	default:
		return sv.violation("scheme_blocked", rawURL, fmt.Sprintf("URL scheme %q is not allowed", parsed.Scheme))
	}

	host := strings.ToLower(parsed.Hostname())

	if isLocalhost(host) && !sv.config.AllowLocalhostURLs {
		return sv.violation("localhost_url_blocked", rawURL, "localhost URLs are not allowed")
	}

	if len(sv.config.AllowedDomains) > 0 && !matchAny(host, sv.config.AllowedDomains) {
		return sv.violation("domain_not_allowed", rawURL, fmt.Sprintf("domain not in allowed list: %s", host))
	}

	if matchAny(host, sv.config.BlockedDomains) {
		return sv.violation("domain_blocked", rawURL, fmt.Sprintf("domain is blocked: %s", host))
	}

	return nil
}

func (sv *SecurityValidator) violation(kind, rawURL, message string) error {
	sv.logger.Warn().Str("violation", kind).Str("url", rawURL).Msg("Browser URL rejected")
	return &BrowserError{
		Code:    ErrCodeSecurity,
		Message: message,
		Details: map[string]interface{}{"url": rawURL},
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" ||
		host == "::1" ||
		host == "0.0.0.0" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasSuffix(host, ".localhost")
}

func matchAny(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchDomain(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// matchDomain supports exact hosts, "*.example.com" and ".example.com".
func matchDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	if strings.HasPrefix(pattern, ".") {
		return host == pattern[1:] || strings.HasSuffix(host, pattern)
	}
	return false
}
