package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pressgate/pkg/auth"
	"pressgate/pkg/httpx"
	"pressgate/pkg/tokens"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var actor auth.Actor
	switch {
	case strings.TrimSpace(req.Secret) != "":
		if !s.legacySecretMatches(req.Secret) {
			httpx.ErrorCode(w, http.StatusUnauthorized, "BAD_CREDENTIALS", "invalid credentials")
			return
		}
		actor = auth.Actor{ID: "legacy-admin", Role: "admin", Username: "admin"}
	case req.Username != "" && req.Password != "":
		if s.Resolver == nil {
			httpx.Error(w, http.StatusServiceUnavailable, "identity backend not configured")
			return
		}
		var err error
		actor, err = s.Resolver.Resolve(r.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				httpx.ErrorCode(w, http.StatusUnauthorized, "BAD_CREDENTIALS", "invalid credentials")
				return
			}
			httpx.Error(w, http.StatusBadGateway, "identity backend unavailable")
			return
		}
	default:
		httpx.Error(w, http.StatusBadRequest, "username/password or secret is required")
		return
	}

	pair, err := s.Tokens.Issue(r.Context(), actor)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "could not issue credentials")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) legacySecretMatches(secret string) bool {
	if !s.LegacyAdminEnabled || s.LegacyAdminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.LegacyAdminSecret)) == 1
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RefreshToken == "" {
		httpx.Error(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	pair, err := s.Tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidToken) || errors.Is(err, tokens.ErrRevokedOrExpired) {
			httpx.ErrorCode(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token rejected")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "could not rotate credentials")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// handleLogout always succeeds; revocation is best-effort.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := json.Unmarshal(body, &req); err == nil && req.RefreshToken != "" {
		s.Tokens.Revoke(r.Context(), req.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}
