package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// Key resolves the idempotency key for a completion request. The body
// field takes precedence; the Idempotency-Key header is accepted as a
// fallback for callers that retry at the transport layer.
func Key(r *http.Request, bodyKey string) string {
	if k := strings.TrimSpace(bodyKey); k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get(Header))
}
