package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-ID"
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsExposeHeaders = "X-Request-ID, Retry-After"
	corsMaxAge        = "600"
)

// corsPolicy matches request origins against the configured allowlist.
// Entries are exact origins, "*" for any origin, or a wildcard subdomain
// such as "https://*.rescue.example".
type corsPolicy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []corsSuffix
}

type corsSuffix struct {
	scheme string
	domain string
}

func newCORSPolicy(origins []string) corsPolicy {
	p := corsPolicy{exact: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			p.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			p.suffixes = append(p.suffixes, corsSuffix{scheme: scheme, domain: strings.ToLower(host)})
		default:
			p.exact[origin] = struct{}{}
		}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	scheme, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	host = strings.ToLower(host)
	for _, s := range p.suffixes {
		if scheme == s.scheme && strings.HasSuffix(host, s.domain) && len(host) > len(s.domain) {
			return true
		}
	}
	return false
}

// CORS lets the intake front end call the API from another origin. Preflight
// requests are answered here; a preflight from an origin outside the
// allowlist gets 403 without reaching the handler.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := policy.allows(origin)
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			preflight := r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
