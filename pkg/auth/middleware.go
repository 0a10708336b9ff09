package auth

import (
	"net/http"
	"strings"

	"pressgate/pkg/httpx"
)

// AccessVerifier checks a bearer credential and resolves the actor behind it.
type AccessVerifier interface {
	VerifyAccess(token string) (Actor, error)
}

// Middleware authenticates requests with a bearer access token and places
// the resolved actor on the request context. Requests without a valid token
// are rejected with 401.
func Middleware(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				httpx.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimSpace(header[len("Bearer "):])
			actor, err := verifier.VerifyAccess(token)
			if err != nil {
				httpx.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
