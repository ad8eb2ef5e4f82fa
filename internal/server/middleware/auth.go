package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAPIKey is the alternative to an Authorization bearer token for the
// admin key.
const HeaderAPIKey = "X-API-Key"

// AdminAuth guards operator routes (deposits, archive runs) with a static
// key. An empty apiKey turns the routes off: they answer 403 no matter what
// the request carries.
func AdminAuth(apiKey string) func(http.Handler) http.Handler {
	// Comparing digests keeps the comparison constant-time regardless of
	// the presented key's length.
	want := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch presented, ok := adminToken(r); {
			case apiKey == "":
				writeError(w, http.StatusForbidden, "unauthorized", "admin api disabled")
			case !ok:
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing admin key")
			case subtle.ConstantTimeCompare(want[:], digest(presented)) != 1:
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// adminToken reads "Authorization: Bearer <key>" or X-API-Key.
func adminToken(r *http.Request) (string, bool) {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key, true
	}
	return "", false
}
