package identity

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsNetworkError reports whether err looks like a transport failure
// rather than a backend verdict. Network-shaped failures are retried or
// swallowed by the session engine; everything else surfaces as a real
// auth outcome.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"fetch", "network", "connection refused", "connection reset", "no such host", "timeout", "tls handshake"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
