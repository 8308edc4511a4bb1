package upstream

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestAuthCodeURLParameters(t *testing.T) {
	svc := NewGmail("client", "secret", "http://localhost:3000/callback", nil)

	raw := svc.AuthCodeURL("state-token")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "state-token", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/callback", q.Get("redirect_uri"))
}

func TestNewGmailDefaultScopes(t *testing.T) {
	svc := NewGmail("client", "secret", "", nil)
	assert.Equal(t, DefaultScopes, svc.conf.Scopes)

	custom := NewGmail("client", "secret", "", []string{"openid"})
	assert.Equal(t, []string{"openid"}, custom.conf.Scopes)
}

func TestFromTokenKeepsPriorRefreshToken(t *testing.T) {
	svc := NewGmail("client", "secret", "", nil)
	prev := &Credential{RefreshToken: "original-refresh"}

	// Provider did not rotate the refresh token
	cred := svc.fromToken(&oauth2.Token{AccessToken: "fresh"}, prev)
	assert.Equal(t, "original-refresh", cred.RefreshToken)

	// Provider rotated: the new one wins
	cred = svc.fromToken(&oauth2.Token{AccessToken: "fresh", RefreshToken: "rotated"}, prev)
	assert.Equal(t, "rotated", cred.RefreshToken)
}

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"past expiry", now.Add(-time.Minute), true},
		{"zero expiry treated as valid", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{Expiry: tt.expiry}
			assert.Equal(t, tt.want, cred.Expired(now))
		})
	}
}
