package auth

import (
	"net/http"
	"strings"
)

// DefaultQueryKeys are the query parameters consulted when no header is set.
// Browsers cannot attach headers to a websocket handshake.
var DefaultQueryKeys = []string{"authorization", "token"}

// TokenFromRequest returns the presented token. The Authorization header wins;
// it may be "Bearer <token>" or the bare token. Otherwise the first non-empty
// query parameter among queryKeys is used.
func TokenFromRequest(r *http.Request, queryKeys ...string) (string, bool) {
	if raw := headerToken(r.Header.Get("Authorization")); raw != "" {
		return raw, true
	}

	q := r.URL.Query()
	for _, k := range queryKeys {
		if v := headerToken(q.Get(k)); v != "" {
			return v, true
		}
	}
	return "", false
}

func headerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	scheme, rest, found := strings.Cut(raw, " ")
	if !found {
		return raw
	}
	if !strings.EqualFold(scheme, "Bearer") {
		// Some other scheme (Basic, ...): not ours.
		return ""
	}
	return strings.TrimSpace(rest)
}
