package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pressgate/pkg/audit"
	"pressgate/pkg/auth"
	"pressgate/pkg/breaker"
	"pressgate/pkg/confirm"
	"pressgate/pkg/executor"
	"pressgate/pkg/gateway"
	"pressgate/pkg/hardening"
	"pressgate/pkg/httpx"
	"pressgate/pkg/idempotency"
	"pressgate/pkg/metrics"
	"pressgate/pkg/notify"
	"pressgate/pkg/ratelimit"
	"pressgate/pkg/store"
	"pressgate/pkg/stream"
	"pressgate/pkg/telemetry"
	"pressgate/pkg/tokens"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	Store               store.Store
	Tokens              *tokens.Issuer
	Resolver            auth.Resolver
	Intents             *confirm.Intents
	Orchestrator        *gateway.Orchestrator
	Gate                *idempotency.Gate
	Audit               *audit.Writer
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Notifier            notify.Publisher
	HTTPClient          *http.Client
	RateLimiter         ratelimit.Limiter
	RateLimitPerWindow  int
	LegacyAdminEnabled  bool
	LegacyAdminSecret   string
	MaxRequestBodyBytes int64
}

type initTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type openRedisFunc func(ctx context.Context) (*redis.Client, error)
type openPostgresFunc func(ctx context.Context) (*pgxpool.Pool, error)
type listenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	initTelemetry = telemetry.Init
	openRedisFn   = store.NewRedis
	openPgFn      = openPostgresFunc(store.NewPostgresPool)
	listenFn      = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runGateway(initTelemetry, openRedisFn, listenFn); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(initTelemetry initTelemetryFunc, openRedis openRedisFunc, listen listenFunc) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "pressgate")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "pressgate",
		Environment:           env("ENVIRONMENT", "development"),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		LegacyAdminEnabled:    env("LEGACY_ADMIN_ENABLED", "false"),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "AUTH_SECRET", Value: env("AUTH_SECRET", "")},
		},
	}); err != nil {
		return err
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory store and limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	kv := store.Open(ctx, redisClient)

	authSecret := env("AUTH_SECRET", "")
	if authSecret == "" {
		authSecret = "pressgate-dev-secret"
		log.Printf("AUTH_SECRET not set, using development-only signing secret")
	}
	issuer := &tokens.Issuer{
		Secret:     []byte(authSecret),
		IssuerName: env("AUTH_ISSUER", "pressgate"),
		Audience:   env("AUTH_AUDIENCE", "pressgate-api"),
		AccessTTL:  envDurationSec("ACCESS_TTL_SEC", 900),
		RefreshTTL: envDurationSec("REFRESH_TTL_SEC", 86400),
		Sessions:   kv,
	}

	events := stream.NewHub()
	reg := metrics.NewRegistry()

	breakers := breaker.NewRegistry(breaker.Options{
		Timeout:                  time.Millisecond * time.Duration(envInt("NOTIFY_BREAKER_TIMEOUT_MS", 3000)),
		ErrorThresholdPercentage: envInt("NOTIFY_BREAKER_ERROR_THRESHOLD_PCT", 50),
		ResetTimeout:             envDurationSec("NOTIFY_BREAKER_RESET_TIMEOUT_SEC", 30),
		VolumeThreshold:          envInt("NOTIFY_BREAKER_VOLUME_THRESHOLD", 5),
		RollingWindow:            envDurationSec("NOTIFY_BREAKER_WINDOW_SEC", 10),
	})
	breakers.OnStateChange = func(name string, from, to breaker.State) {
		log.Printf("breaker %s: %s -> %s", name, from, to)
		events.Publish(stream.NewBreakerEvent(name, from.String(), to.String()))
		open := 0.0
		if to == breaker.Open {
			open = 1.0
		}
		reg.SetGauge("breaker_"+name+"_open", open)
	}

	notifier := buildNotifier()
	defer notifier.Close()

	httpClient := telemetry.InstrumentClient(&http.Client{
		Timeout: time.Millisecond * time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 10000)),
	})
	exec := executor.HTTPExecutor{
		Client:     httpClient,
		Endpoint:   env("EXECUTOR_URL", "http://localhost:8091/v1/tools/execute"),
		Headers:    authHeaderMap(env("EXECUTOR_AUTH_HEADER", "Authorization"), env("EXECUTOR_AUTH_TOKEN", "")),
		Retries:    envInt("UPSTREAM_RETRIES", 2),
		RetryDelay: time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 200)),
	}

	intents := confirm.NewIntents(kv, envDurationSec("CONFIRM_TTL_SEC", 600))

	var auditWriter *audit.Writer
	if env("AUDIT_ENABLED", "false") == "true" {
		pool, err := openPgFn(ctx)
		if err != nil {
			log.Printf("audit database unavailable, decisions will not be persisted: %v", err)
		} else {
			defer pool.Close()
			auditWriter = &audit.Writer{
				DB:       pool,
				HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
				Redact:   env("AUDIT_REDACT", "true") == "true",
			}
		}
	}

	s := &Server{
		Store:    kv,
		Tokens:   issuer,
		Intents:  intents,
		Audit:    auditWriter,
		Metrics:  reg,
		Events:   events,
		Notifier: notifier,
		Orchestrator: &gateway.Orchestrator{
			Intents:  intents,
			Exec:     exec,
			Notifier: notifier,
			Breaker:  breakers.Get("notifications"),
			Events:   events,
			Metrics:  reg,
		},
		Gate: idempotency.NewGate(kv,
			envDurationSec("IDEMPOTENCY_IN_PROGRESS_TTL_SEC", 30),
			envDurationSec("IDEMPOTENCY_COMPLETED_TTL_SEC", 86400)),
		HTTPClient:          httpClient,
		RateLimitPerWindow:  envInt("RATE_LIMIT_PER_WINDOW", 120),
		LegacyAdminEnabled:  env("LEGACY_ADMIN_ENABLED", "false") == "true",
		LegacyAdminSecret:   env("LEGACY_ADMIN_SECRET", ""),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.LegacyAdminEnabled {
		log.Printf("legacy admin secret login is enabled; disable LEGACY_ADMIN_ENABLED outside development")
	}
	if resolverURL := env("IDENTITY_URL", ""); resolverURL != "" {
		s.Resolver = auth.HTTPResolver{
			Client:     httpClient,
			Endpoint:   resolverURL,
			Retries:    envInt("UPSTREAM_RETRIES", 2),
			RetryDelay: time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 200)),
		}
	}
	if env("RATE_LIMIT_ENABLED", "true") == "true" {
		window := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, window)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(window)
		}
	}

	addr := env("ADDR", ":8080")
	log.Printf("pressgate listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("pressgate"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	r.Route("/v1/auth", func(ar chi.Router) {
		ar.Use(ratelimit.Middleware(s.RateLimiter, s.RateLimitPerWindow))
		ar.Post("/login", s.handleLogin)
		ar.Post("/refresh", s.handleRefresh)
		ar.Post("/logout", s.handleLogout)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(s.Tokens))
		pr.Get("/v1/stream", s.streamEvents)
		pr.Get("/v1/audit/{correlationID}", s.handleAuditLookup)
		pr.Route("/v1/actions", func(ar chi.Router) {
			ar.Use(ratelimit.Middleware(s.RateLimiter, s.RateLimitPerWindow))
			ar.With(s.Gate.Middleware).Post("/execute", s.handleExecuteAction)
			ar.Post("/confirm", s.handleConfirmAction)
		})
	})
	return r
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func buildNotifier() notify.Publisher {
	if brokers := env("NOTIFY_KAFKA_BROKERS", ""); brokers != "" {
		p, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("NOTIFY_KAFKA_TOPIC", "pressgate.actions"),
		})
		if err == nil {
			return p
		}
		log.Printf("kafka notifier disabled: %v", err)
	}
	if url := env("NOTIFY_WEBHOOK_URL", ""); url != "" {
		return &notify.WebhookPublisher{
			URL:        url,
			Headers:    authHeaderMap(env("NOTIFY_WEBHOOK_AUTH_HEADER", "Authorization"), env("NOTIFY_WEBHOOK_AUTH_TOKEN", "")),
			Retries:    envInt("UPSTREAM_RETRIES", 2),
			RetryDelay: time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 200)),
		}
	}
	return notify.NopPublisher{}
}

func authHeaderMap(header, token string) map[string]string {
	header = strings.TrimSpace(header)
	token = strings.TrimSpace(token)
	if header == "" || token == "" {
		return nil
	}
	if strings.EqualFold(header, "Authorization") && !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	return map[string]string{header: token}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
