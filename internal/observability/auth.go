package observability

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// tokenAuth requires the token from non-loopback clients, as
// "Authorization: Bearer <token>" or "?token=<token>".
func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isLoopbackRemote(r.RemoteAddr) || tokenMatches(r, tok) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func tokenMatches(r *http.Request, tok string) bool {
	got := r.URL.Query().Get("token")
	if got == "" {
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
			got = strings.TrimSpace(strings.TrimPrefix(ah, p))
		}
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(tok)) == 1
}

func isLoopbackRemote(remote string) bool {
	h, _, err := net.SplitHostPort(remote)
	if err != nil {
		h = remote
	}
	ip := net.ParseIP(strings.TrimSpace(h))
	return ip != nil && ip.IsLoopback()
}

// isLoopbackAddr reports whether a listen addr (host:port) binds loopback only.
// An empty host means all interfaces.
func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
