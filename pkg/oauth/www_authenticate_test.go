package oauth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected *AuthChallenge
		wantErr  bool
	}{
		{
			name:   "bearer with realm",
			header: `Bearer realm="https://auth.example.com"`,
			expected: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "https://auth.example.com",
			},
		},
		{
			name:   "bearer with realm and scope",
			header: `Bearer realm="https://auth.example.com", scope="orders:write"`,
			expected: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "https://auth.example.com",
				Scope:  "orders:write",
			},
		},
		{
			name:   "bearer with error",
			header: `Bearer error="invalid_token", error_description="token expired"`,
			expected: &AuthChallenge{
				Scheme:           "Bearer",
				Error:            "invalid_token",
				ErrorDescription: "token expired",
			},
		},
		{
			name:     "bare scheme",
			header:   "Bearer",
			expected: &AuthChallenge{Scheme: "Bearer"},
		},
		{
			name:    "empty header",
			header:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, err := ParseWWWAuthenticate(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, challenge)
		})
	}
}

func TestIsOAuthChallenge(t *testing.T) {
	assert.True(t, (&AuthChallenge{Scheme: "Bearer"}).IsOAuthChallenge())
	assert.True(t, (&AuthChallenge{Scheme: "bearer"}).IsOAuthChallenge())
	assert.False(t, (&AuthChallenge{Scheme: "Basic"}).IsOAuthChallenge())
	assert.False(t, (*AuthChallenge)(nil).IsOAuthChallenge())
}

func TestParseWWWAuthenticateFromResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusUnauthorized,
		Header:     http.Header{"Www-Authenticate": []string{`Bearer realm="https://auth.example.com"`}},
	}
	challenge := ParseWWWAuthenticateFromResponse(resp)
	require.NotNil(t, challenge)
	assert.Equal(t, "https://auth.example.com", challenge.Realm)

	// Non-401 responses never produce challenges.
	ok := &http.Response{StatusCode: http.StatusOK, Header: resp.Header}
	assert.Nil(t, ParseWWWAuthenticateFromResponse(ok))

	// 401 without the header.
	bare := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	assert.Nil(t, ParseWWWAuthenticateFromResponse(bare))
}

func TestIs401Error(t *testing.T) {
	assert.True(t, Is401Error(errors.New("request failed with status 401")))
	assert.True(t, Is401Error(errors.New("Unauthorized")))
	assert.True(t, Is401Error(errors.New("invalid_token: signature check failed")))
	assert.True(t, Is401Error(errors.New("token expired")))
	assert.False(t, Is401Error(errors.New("connection refused")))
	assert.False(t, Is401Error(nil))
}
