package browser

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name     string
		config   SecurityConfig
		url      string
		wantCode string
	}{
		{name: "https", url: "https://example.com"},
		{name: "about blank", url: "about:blank"},
		{name: "no scheme", url: "example.com", wantCode: ErrCodeValidation},
		{name: "javascript scheme", url: "javascript:alert(1)", wantCode: ErrCodeSecurity},
		{name: "file blocked", url: "file:///etc/passwd", wantCode: ErrCodeSecurity},
		{name: "file allowed", config: SecurityConfig{AllowFileURLs: true}, url: "file:///tmp/a.html"},
		{name: "localhost blocked", url: "http://localhost:8080", wantCode: ErrCodeSecurity},
		{name: "loopback blocked", url: "http://127.0.0.1:8080", wantCode: ErrCodeSecurity},
		{name: "localhost allowed", config: SecurityConfig{AllowLocalhostURLs: true}, url: "http://localhost:8080"},
		{
			name:   "wildcard allow list",
			config: SecurityConfig{AllowedDomains: []string{"*.example.com"}},
			url:    "https://docs.example.com/page",
		},
		{
			name:     "outside allow list",
			config:   SecurityConfig{AllowedDomains: []string{"example.com"}},
			url:      "https://other.org",
			wantCode: ErrCodeSecurity,
		},
		{
			name:     "blocked subdomain",
			config:   SecurityConfig{BlockedDomains: []string{".ads.net"}},
			url:      "https://x.ads.net",
			wantCode: ErrCodeSecurity,
		},
		{
			name:     "blocked domain is case insensitive",
			config:   SecurityConfig{BlockedDomains: []string{"Evil.com"}},
			url:      "https://EVIL.com/x",
			wantCode: ErrCodeSecurity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSecurityValidator(tt.config, zerolog.Nop()).ValidateURL(tt.url)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var browserErr *BrowserError
			require.True(t, errors.As(err, &browserErr))
			assert.Equal(t, tt.wantCode, browserErr.Code)
		})
	}
}

func TestMatchDomain(t *testing.T) {
	assert.True(t, matchDomain("example.com", "example.com"))
	assert.True(t, matchDomain("example.com", "*.example.com"))
	assert.True(t, matchDomain("a.b.example.com", "*.example.com"))
	assert.False(t, matchDomain("badexample.com", "*.example.com"))
	assert.True(t, matchDomain("a.example.com", ".example.com"))
	assert.False(t, matchDomain("example.org", "example.com"))
}
