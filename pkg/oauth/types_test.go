package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenIsExpired(t *testing.T) {
	tests := []struct {
		name     string
		token    Token
		expected bool
	}{
		{
			name:     "no expiry never expires",
			token:    Token{AccessToken: "tok"},
			expected: false,
		},
		{
			name:     "future expiry",
			token:    Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)},
			expected: false,
		},
		{
			name:     "past expiry",
			token:    Token{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Hour)},
			expected: true,
		},
		{
			name:     "within default margin",
			token:    Token{AccessToken: "tok", ExpiresAt: time.Now().Add(10 * time.Second)},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.token.IsExpired())
		})
	}
}

func TestTokenAgentMargin(t *testing.T) {
	// Valid under the default margin but stale under the agent margin.
	token := Token{AccessToken: "tok", ExpiresAt: time.Now().Add(45 * time.Second)}
	assert.False(t, token.IsExpiredWithMargin(DefaultExpiryMargin))
	assert.True(t, token.IsExpiredWithMargin(AgentExpiryMargin))
}

func TestSetExpiresAtFromExpiresIn(t *testing.T) {
	token := Token{AccessToken: "tok", ExpiresIn: 3600}
	token.SetExpiresAtFromExpiresIn()

	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, 5*time.Second)

	// Already-set ExpiresAt is not overwritten.
	fixed := time.Now().Add(2 * time.Hour)
	token2 := Token{AccessToken: "tok", ExpiresIn: 60, ExpiresAt: fixed}
	token2.SetExpiresAtFromExpiresIn()
	assert.Equal(t, fixed, token2.ExpiresAt)
}

func TestScopes(t *testing.T) {
	token := Token{Scope: "menu:read orders:write"}
	assert.Equal(t, []string{"menu:read", "orders:write"}, token.Scopes())

	empty := Token{}
	assert.Nil(t, empty.Scopes())
}

func TestToOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	token := Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		ExpiresAt:    expiry,
	}

	o2 := token.ToOAuth2Token()
	assert.Equal(t, "access", o2.AccessToken)
	assert.Equal(t, "Bearer", o2.TokenType)
	assert.Equal(t, "refresh", o2.RefreshToken)
	assert.Equal(t, expiry, o2.Expiry)
}
