package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pressgate/pkg/auth"
	"pressgate/pkg/httpx"
	"pressgate/pkg/telemetry"

	"github.com/go-chi/chi/v5"
)

type user struct {
	password string
	actor    auth.Actor
}

type directory struct {
	users map[string]user
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runIdentityMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

// parseUsers reads "username:password:role" triples separated by commas.
func parseUsers(raw string) map[string]user {
	out := map[string]user{}
	for i, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		out[parts[0]] = user{
			password: parts[1],
			actor: auth.Actor{
				ID:       "u-" + strconv.Itoa(i+1),
				Role:     parts[2],
				Username: parts[0],
			},
		}
	}
	return out
}

func (d *directory) resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		httpx.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}
	u, ok := d.users[req.Username]
	if !ok || subtle.ConstantTimeCompare([]byte(req.Password), []byte(u.password)) != 1 {
		httpx.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u.actor)
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

func runIdentityMock(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "identity-mock")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	dir := &directory{users: parseUsers(env("IDENTITY_USERS", "admin:admin:admin,editor:editor:editor,viewer:viewer:viewer"))}
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("identity-mock"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "identity-mock"})
	})
	r.Post("/v1/identity/resolve", dir.resolve)

	addr := env("ADDR", ":8092")
	log.Printf("identity-mock listening on %s", addr)
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
