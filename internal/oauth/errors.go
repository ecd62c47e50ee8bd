package oauth

import "fmt"

// TokenExchangeError is returned when redeeming an authorization code fails:
// an expired or already-used code, a network error, or a malformed token
// response. The pending authorization URL is left cleared so the next
// connection attempt is forced to generate a fresh one.
type TokenExchangeError struct {
	// StatusCode is the HTTP status from the token endpoint, 0 if the
	// request never completed.
	StatusCode int

	// Detail is the error body or description from the authorization server.
	Detail string

	// Err is the underlying transport or decoding error, if any.
	Err error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return "token exchange failed: " + e.Detail
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
