package resilience

import (
	"context"
	"errors"
	"strings"
)

// IsRateLimitError reports whether err is a rate-limit rejection from a remote
// endpoint (HTTP 429 or an equivalent JSON-RPC message)
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

// IsExecutionReverted reports whether err is an EVM revert from a call or estimate
func IsExecutionReverted(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// IsNonceError reports whether a send failed because the nonce was stale or
// already in use
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "invalid argument") {
		return false
	}
	if strings.Contains(msg, "insufficient funds") {
		return false
	}
	if strings.Contains(msg, "status code 4") {
		return false
	}

	return true
}
