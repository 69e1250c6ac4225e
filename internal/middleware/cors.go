package middleware

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and sets the CORS headers for allowed
// origins. An empty allow list accepts every origin.
func CORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && OriginAllowed(allowed, origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed matches origin against entries that are either full origins
// ("https://app.example.com"), bare hosts ("localhost"), "*" or a wildcard
// subdomain ("*.example.com"). Ports are ignored for host entries.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}

	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	for _, entry := range allowed {
		switch {
		case entry == "*":
			return true
		case strings.EqualFold(entry, origin), strings.EqualFold(entry, host):
			return true
		case strings.HasPrefix(entry, "*.") && strings.HasSuffix(host, entry[1:]):
			return true
		}
	}
	return false
}
