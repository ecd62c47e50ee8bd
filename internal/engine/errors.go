package engine

import (
	"errors"
	"strings"
)

// Sentinel errors for completion-engine failures. Providers wrap these so
// the conversation layer can classify without inspecting provider detail.
var (
	// ErrOverloaded indicates the upstream model service is overloaded or
	// temporarily unavailable.
	ErrOverloaded = errors.New("engine: upstream overloaded")

	// ErrRateLimit indicates the upstream rejected the request for rate
	// limiting reasons.
	ErrRateLimit = errors.New("engine: rate limited")

	// ErrBadRequest indicates the request itself was rejected as invalid.
	ErrBadRequest = errors.New("engine: bad request")

	// ErrMaxIterationsReached indicates the tool loop hit its iteration
	// bound before the model produced a final answer.
	ErrMaxIterationsReached = errors.New("engine: max iterations reached")
)

// IsOverloaded reports whether err is an upstream-overload failure. Typed
// sentinels are checked first; message substrings are the last-resort
// fallback for SDKs that surface unstructured errors.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverloaded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "503")
}

// IsRateLimit reports whether err is a rate-limit failure.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests")
}

// IsBadRequest reports whether err is a bad-request failure.
func IsBadRequest(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBadRequest) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bad request") || strings.Contains(msg, "400") ||
		strings.Contains(msg, "invalid_request")
}
