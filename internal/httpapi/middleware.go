package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signali.bg/internal/audit"
	"signali.bg/internal/config"
	"signali.bg/internal/ids"
	"signali.bg/internal/obs"
	"signali.bg/internal/ratelimit"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// RequestID assigns every request a ULID and echoes it in X-Request-Id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if rid == "" || len(rid) > 64 {
			rid = ids.New()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)
		ctx = audit.WithRequestMeta(ctx, clientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// LoggingJSON emits one structured line per request.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogEntry(map[string]any{
			"level":       "info",
			"msg":         "request_complete",
			"request_id":  RequestIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"remote":      clientIP(r),
		})
	})
}

// SecurityHeaders: baseline hardening for a JSON-only API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy",
			"default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// CORS: locked but practical (adjust origins if needed)
func CORS(next http.Handler) http.Handler {
	allowedMethods := "GET,POST,PATCH,DELETE,OPTIONS"
	allowedHeaders := "Content-Type,Authorization,X-Request-Id"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes: limit request body size
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimitByChannel charges the request's channel bucket ahead of token
// validation, so exhausted callers are shed before any signature work.
func (a *API) rateLimitByChannel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if channel := channelFor(r); channel != "" {
			if !a.allowChannel(w, r, channel) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// channelFor maps a request to its rate-limit channel. Mirrors the route
// table in New; unmapped requests pass unmetered.
func channelFor(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/v1/signals" || path == "/v1/reports/sla":
		if r.Method == http.MethodGet {
			return config.ChannelPublicRead
		}
	case strings.HasPrefix(path, "/v1/signals/"):
		if r.Method == http.MethodPatch || r.Method == http.MethodDelete {
			return config.ChannelSignalUpdate
		}
	case path == "/v1/approvals":
		if r.Method == http.MethodPost {
			return config.ChannelApprovalCreate
		}
	case strings.HasPrefix(path, "/v1/approvals/"):
		if r.Method == http.MethodPost {
			return config.ChannelApprovalDecide
		}
	case strings.HasPrefix(path, "/v1/users/") && strings.HasSuffix(path, "/roles"):
		if r.Method == http.MethodPost {
			return config.ChannelRoleChange
		}
	}
	return ""
}

// allowChannel consumes one token from the named channel's bucket, or
// answers 429 and reports false. The client key is a weak fingerprint of
// forwarded address and user agent; an unconfigured channel passes.
func (a *API) allowChannel(w http.ResponseWriter, r *http.Request, channel string) bool {
	if a.limiter == nil {
		return true
	}
	policy, ok := a.policies[channel]
	if !ok {
		return true
	}
	key := ratelimit.Fingerprint(clientIP(r), r.UserAgent())
	if a.limiter.Allow(r.Context(), key, policy) {
		return true
	}
	retryAfter := int(policy.Window.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, r, http.StatusTooManyRequests, "rate_limited")
	return false
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For support (first IP)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLocalOrigin(o string) bool {
	// allow localhost during dev; extend list for prod domains later
	return strings.HasPrefix(o, "http://localhost:") || strings.HasPrefix(o, "http://127.0.0.1:")
}
