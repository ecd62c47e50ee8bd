// Package oauth implements the per-session credential provider: the OAuth
// client identity, PKCE pair, cached token set, and pending-authorization-URL
// slot owned by exactly one conversation session.
//
// A CredentialProvider is created when its session is created and dies with
// it. The provider's session key doubles as the OAuth state parameter, which
// is how an authorization callback finds its way back to the session that
// initiated the flow.
//
// Two invariants are maintained here:
//
//   - A fresh pending authorization URL and fresh tokens never coexist:
//     redeeming an authorization code clears the pending URL, and a failed
//     connection attempt repopulates it.
//   - Token validity is always computed against an absolute expiry recorded
//     at save time, never a raw expires_in counter.
package oauth
