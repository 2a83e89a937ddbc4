// AngelaMos | 2026
// security_test.go

package core

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokenIsDeterministic(t *testing.T) {
	first := HashToken("secret-value")
	second := HashToken("secret-value")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, HashToken("other-value"))
}

func TestCompareTokenHash(t *testing.T) {
	stored := HashToken("secret-value")

	assert.True(t, CompareTokenHash(stored, "secret-value"))
	assert.False(t, CompareTokenHash(stored, "wrong-value"))
	assert.False(t, CompareTokenHash("", "secret-value"))
}

func TestClientFingerprintStableAcrossRequests(t *testing.T) {
	build := func(ua, lang string) string {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("User-Agent", ua)
		r.Header.Set("Accept-Language", lang)
		r.Header.Set("Accept-Encoding", "gzip")
		r.Header.Set("Accept", "application/json")
		return ClientFingerprint(r)
	}

	same := build("agent-a", "en-US")
	assert.Equal(t, same, build("agent-a", "en-US"))
	assert.NotEqual(t, same, build("agent-b", "en-US"))
	assert.NotEqual(t, same, build("agent-a", "de-DE"))
}

func TestGenerateSessionID(t *testing.T) {
	first, err := GenerateSessionID()
	require.NoError(t, err)
	second, err := GenerateSessionID()
	require.NoError(t, err)

	assert.Len(t, first, 40)
	assert.NotEqual(t, first, second)
	assert.Regexp(t, "^[A-Za-z0-9]+$", first)
}

func TestGenerateTokenSecret(t *testing.T) {
	secret, err := GenerateTokenSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 64)
}

func TestExtractIPAddress(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{
			name:       "forwarded chain takes last hop",
			forwarded:  "203.0.113.7, 10.0.0.2",
			remoteAddr: "127.0.0.1:1234",
			expected:   "10.0.0.2",
		},
		{
			name:       "real ip header",
			realIP:     "203.0.113.7",
			remoteAddr: "127.0.0.1:1234",
			expected:   "203.0.113.7",
		},
		{
			name:       "remote addr fallback",
			remoteAddr: "192.0.2.1:5678",
			expected:   "192.0.2.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			expected:   "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.expected, ExtractIPAddress(r))
		})
	}
}

func TestRequestContextFromHTTP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:5678"
	r.Header.Set("User-Agent", "agent-a")
	r.Header.Set(HeaderSessionID, "sess-1")

	ctx := RequestContextFromHTTP(r)

	assert.Equal(t, "192.0.2.1", ctx.IP)
	assert.Equal(t, "agent-a", ctx.UserAgent)
	assert.Equal(t, "sess-1", ctx.SessionID)
	assert.NotEmpty(t, ctx.Fingerprint)
}
