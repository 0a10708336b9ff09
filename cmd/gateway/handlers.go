package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pressgate/pkg/audit"
	"pressgate/pkg/auth"
	"pressgate/pkg/confirm"
	"pressgate/pkg/gateway"
	"pressgate/pkg/httpx"
	"pressgate/pkg/idempotency"
	"pressgate/pkg/stream"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "service": "pressgate"}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		body["store"] = "degraded"
	} else {
		body["store"] = "ok"
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "missing actor")
		return
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req gateway.ActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.Orchestrator.Execute(r.Context(), actor, req)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidRequest) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "action pipeline failed")
		return
	}

	if s.Audit != nil {
		if err := s.Audit.Append(r.Context(), audit.Record{
			CorrelationID: resp.CorrelationID,
			Tool:          resp.ToolName,
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			Decision:      resp.Policy,
			Status:        resp.Status,
			InputRaw:      req.ToolInput,
		}); err != nil {
			log.Printf("audit append failed: %v", err)
		}
	}

	s.Metrics.IncTool(resp.ToolName)
	s.Metrics.IncDecision(resp.Policy)
	if resp.Status == gateway.StatusDenied {
		s.Metrics.IncReason(resp.Message)
	}
	if resp.Status == gateway.StatusSuccess && req.ConfirmToken != "" {
		s.Metrics.IncConfirmationConsumed()
	}
	httpx.WriteJSON(w, actionStatusCode(resp.Status), resp)
}

func actionStatusCode(status string) int {
	switch status {
	case gateway.StatusConfirmationRequired:
		return http.StatusAccepted
	case gateway.StatusDenied:
		return http.StatusForbidden
	case gateway.StatusError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

type confirmRequest struct {
	IntentID string `json:"intentId"`
}

func (s *Server) handleConfirmAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "missing actor")
		return
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.IntentID) == "" {
		httpx.Error(w, http.StatusBadRequest, "intentId is required")
		return
	}

	token, expiresAt, err := s.Intents.IssueToken(r.Context(), req.IntentID, actor)
	if err != nil {
		switch {
		case errors.Is(err, confirm.ErrNotFound):
			confirmFailure(w, http.StatusNotFound, "not_found", "CONFIRMATION_NOT_FOUND", "no pending action with this intent id")
		case errors.Is(err, confirm.ErrExpired):
			confirmFailure(w, http.StatusGone, "expired", "CONFIRMATION_EXPIRED", "the confirmation window has closed, submit the action again")
		case errors.Is(err, confirm.ErrForbidden):
			confirmFailure(w, http.StatusForbidden, "forbidden", "CONFIRMATION_FORBIDDEN", "this intent belongs to a different actor")
		default:
			httpx.Error(w, http.StatusInternalServerError, "could not issue confirmation token")
		}
		return
	}
	s.Metrics.IncConfirmationIssued()
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "confirmed",
		"confirmToken": token,
		"expiresAt":    expiresAt.UTC().Format(time.RFC3339),
	})
}

func confirmFailure(w http.ResponseWriter, httpStatus int, status, code, msg string) {
	httpx.WriteJSON(w, httpStatus, map[string]interface{}{
		"status":  status,
		"error":   code,
		"message": msg,
	})
}

// handleAuditLookup serves one persisted decision by correlation id for the
// admin console.
func (s *Server) handleAuditLookup(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "missing actor")
		return
	}
	if actor.Role != "admin" {
		httpx.Error(w, http.StatusForbidden, "admin role required")
		return
	}
	if s.Audit == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "audit trail disabled")
		return
	}
	rec, err := s.Audit.Get(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "no decision with this correlation id")
			return
		}
		log.Printf("audit lookup failed: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent(stream.TypeReady, nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		key := r.Method + " " + path
		s.Metrics.Observe(key, rec.status, time.Since(start))
		s.Metrics.ObserveLatency(key, time.Since(start))
		if rec.Header().Get(idempotency.HeaderStatus) == idempotency.StatusReplayed {
			s.Metrics.IncIdempotentReplay()
		}
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}
