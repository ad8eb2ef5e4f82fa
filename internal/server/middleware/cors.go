package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/wishledger/internal/crypto"
)

var (
	corsAllowHeaders = strings.Join([]string{
		"Content-Type",
		"Authorization",
		HeaderAPIKey,
		HeaderRequestID,
		crypto.HeaderCaller,
		crypto.HeaderTimestamp,
		crypto.HeaderNonce,
		crypto.HeaderSignature,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{HeaderRequestID, "Retry-After"}, ", ")
)

// CORS lets browser wallets call the API from the listed origins. An empty
// list or a "*" entry allows any origin. Preflight requests are answered
// here; other OPTIONS requests fall through to the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[strings.ToLower(o)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if allowAll || origins[strings.ToLower(origin)] {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if h.Get("Access-Control-Allow-Origin") != "" {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
