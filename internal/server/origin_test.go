package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in    string
		out   string
		valid bool
	}{
		{"http://Example.COM", "http://example.com", true},
		{"https://retro.example.com:8443", "https://retro.example.com:8443", true},
		{"not a url", "", false},
		{"/relative/path", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := normalizeOrigin(tt.in)
		assert.Equal(t, tt.valid, ok, "origin %q", tt.in)
		assert.Equal(t, tt.out, got, "origin %q", tt.in)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	resetConfigAfter(t)
	SetConfig(&Config{AllowedOrigins: []string{"https://retro.example.com"}})

	r := httptest.NewRequest("GET", "/ws/abc123", nil)
	r.Header.Set("Origin", "https://retro.example.com")
	assert.True(t, isOriginAllowed(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, isOriginAllowed(r))

	r.Header.Del("Origin")
	assert.False(t, isOriginAllowed(r))
}

func TestWildcardOriginAllowsAll(t *testing.T) {
	resetConfigAfter(t)
	SetConfig(&Config{AllowedOrigins: []string{"*"}})

	r := httptest.NewRequest("GET", "/ws/abc123", nil)
	r.Header.Set("Origin", "https://anywhere.example.com")
	assert.True(t, isOriginAllowed(r))
}
