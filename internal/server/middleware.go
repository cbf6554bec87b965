package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/pkg/logging"
)

// securityHeaders sets the mandatory response headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// errorBody is the uniform public error shape. It never carries internal
// detail: the code is the kind's short name and the message generic.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps an internal error onto the public wire form.
func writeError(w http.ResponseWriter, err error) {
	kind := apierror.KindOf(err)
	status := apierror.HTTPStatus(kind)

	if kind == apierror.KindRateLimited {
		retryAfter := 60
		if meta := apierror.MetadataOf(err); meta != nil {
			if v, ok := meta["retry_after_seconds"].(int); ok {
				retryAfter = v
			}
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	var body errorBody
	body.Error.Code = string(kind)
	body.Error.Message = apierror.PublicMessage(kind)
	if kind == apierror.KindValidation {
		// Validation causes are single-line and safe to return.
		var ae *apierror.Error
		if errors.As(err, &ae) {
			body.Error.Message = ae.Message
		}
	}

	if status >= 500 {
		logging.Error("HTTP", err, "Request failed")
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("HTTP", "Failed to encode response: %v", err)
	}
}

// sourceIP extracts the caller's IP for audit attribution and rate
// limiting.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter rate-limits by source IP. Used on the OAuth callback, which is
// reachable without a session token.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// bearerToken pulls the session token from the Authorization header or the
// dedicated session header.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.Header.Get("X-Session-Token")
}
