package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
)

var securityHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"},
	{"Cache-Control", "no-store"},
}

// SecurityHeadersMiddleware applies baseline hardening headers to API responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

type originAllowlist struct {
	any     bool
	origins map[string]struct{}
}

func parseOrigins(raw string) originAllowlist {
	list := originAllowlist{origins: map[string]struct{}{}}
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSpace(part)
		switch origin {
		case "":
		case "*":
			list.any = true
		default:
			list.origins[origin] = struct{}{}
		}
	}
	return list
}

func (a originAllowlist) allows(origin string) bool {
	if a.any {
		return true
	}
	_, ok := a.origins[origin]
	return ok
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

// CORSMiddleware enforces an explicit origin allowlist from comma-separated origins.
func CORSMiddleware(allowedOrigins string) func(http.Handler) http.Handler {
	list := parseOrigins(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !list.allows(origin) {
				if isPreflight(r) {
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			writeCORSHeaders(w.Header(), r, origin)
			if isPreflight(r) {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeCORSHeaders(h http.Header, r *http.Request, origin string) {
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
	if reqHeaders == "" {
		reqHeaders = "Authorization,Content-Type,Idempotency-Key"
	}
	h.Set("Access-Control-Allow-Headers", reqHeaders)
	h.Set("Access-Control-Max-Age", "600")
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"error": msg})
}

// ErrorCode writes an error body with a machine-readable code alongside the
// human message.
func ErrorCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, map[string]any{"error": code, "message": msg})
}
