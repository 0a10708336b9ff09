package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"pressgate/pkg/httpx"
	"pressgate/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Draft is what the mock CMS keeps per blog or project.
type Draft struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Body      json.RawMessage `json:"body,omitempty"`
	Published bool            `json:"published"`
}

type cmsStore struct {
	mu    sync.Mutex
	items map[string]Draft
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runExecutorMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

type toolCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

func (s *cmsStore) execute(w http.ResponseWriter, r *http.Request) {
	var call toolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil || call.Tool == "" {
		httpx.Error(w, http.StatusBadRequest, "tool is required")
		return
	}
	var input struct {
		ID string `json:"id"`
	}
	if len(call.Input) > 0 {
		_ = json.Unmarshal(call.Input, &input)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasSuffix(call.Tool, "_create_draft"):
		d := Draft{ID: uuid.NewString(), Kind: toolKind(call.Tool), Body: call.Input}
		s.items[d.ID] = d
		httpx.WriteJSON(w, http.StatusOK, d)
	case strings.HasSuffix(call.Tool, "_update_draft"):
		d, ok := s.items[input.ID]
		if !ok {
			httpx.Error(w, http.StatusNotFound, "draft not found")
			return
		}
		d.Body = call.Input
		s.items[input.ID] = d
		httpx.WriteJSON(w, http.StatusOK, d)
	case strings.Contains(call.Tool, "_publish_"):
		d, ok := s.items[input.ID]
		if !ok {
			httpx.Error(w, http.StatusNotFound, "draft not found")
			return
		}
		d.Published = true
		s.items[input.ID] = d
		httpx.WriteJSON(w, http.StatusOK, d)
	case strings.Contains(call.Tool, "_unpublish_"):
		d, ok := s.items[input.ID]
		if !ok {
			httpx.Error(w, http.StatusNotFound, "draft not found")
			return
		}
		d.Published = false
		s.items[input.ID] = d
		httpx.WriteJSON(w, http.StatusOK, d)
	case strings.Contains(call.Tool, "_delete_"):
		delete(s.items, input.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": input.ID})
	case strings.HasSuffix(call.Tool, "_list_blogs"),
		strings.HasSuffix(call.Tool, "_list_projects"),
		strings.HasSuffix(call.Tool, "_list_assets"):
		out := make([]Draft, 0, len(s.items))
		kind := toolKind(call.Tool)
		for _, d := range s.items {
			if d.Kind == kind {
				out = append(out, d)
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": out})
	default:
		d, ok := s.items[input.ID]
		if ok {
			httpx.WriteJSON(w, http.StatusOK, d)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"tool": call.Tool, "echo": call.Input})
	}
}

func toolKind(tool string) string {
	if i := strings.IndexByte(tool, '_'); i > 0 {
		return tool[:i]
	}
	return tool
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func runExecutorMock(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "executor-mock")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	store := &cmsStore{items: map[string]Draft{}}
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("executor-mock"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "executor-mock"})
	})
	r.Post("/v1/tools/execute", store.execute)

	addr := env("ADDR", ":8091")
	log.Printf("executor-mock listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}
