package auth

import (
	"net"
	"net/http"
	"strings"

	"dialogd/pkg/logger"
	"dialogd/pkg/utils"
)

// SecConfig carries the transport-boundary security settings: accepted
// API keys, CORS origins, optional IP whitelist and rate limits.
type SecConfig struct {
	BackendKeys    map[string]struct{}
	AllowUnauth    bool
	AllowedOrigins []string
	IPWhitelist    []string
	RPS            float64
	Burst          int
}

// Middleware authenticates requests with a backend API key, applies CORS
// headers, IP whitelisting and per-caller rate limiting. Health and
// readiness probes pass through unauthenticated.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					return
				}
			}

			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key, ok := apiKey(r, cfg)
			if !ok && !cfg.AllowUnauth {
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if key == "" {
				key = clientIP(r)
			}

			if !limiters.Allow(key) {
				logger.Warn("request_rate_limited", "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// apiKey extracts the caller's key from Authorization: Bearer or
// X-API-Key and checks it against the configured backend keys.
func apiKey(r *http.Request, cfg SecConfig) (string, bool) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			key = strings.TrimSpace(ah[len("bearer "):])
		}
	}
	if key == "" {
		return "", false
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return key, true
	}
	return key, false
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if w == ip {
			return true
		}
	}
	return false
}
