package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pgxPoolNewWithConfig   = pgxpool.NewWithConfig
	postgresConnectRetries = 30
	postgresRetryDelay     = 2 * time.Second
	postgresPingTimeout    = 2 * time.Second
	postgresSleep          = time.Sleep
)

// NewPostgresPool connects to the audit database described by DATABASE_URL,
// retrying until the database answers a ping.
func NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := postgresConfig()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < postgresConnectRetries; attempt++ {
		if attempt > 0 {
			postgresSleep(postgresRetryDelay)
		}
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		return pool, nil
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

func postgresConfig() (*pgxpool.Config, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		dsn = defaultPostgresURL()
	}
	if requiresSecureTransport("DATABASE_REQUIRE_TLS") {
		if err := validatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	return cfg, nil
}

func connectPostgres(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxPoolNewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pgEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultPostgresURL() string {
	port := pgEnv("DATABASE_PORT", "5432")
	if _, err := strconv.Atoi(port); err != nil {
		port = "5432"
	}
	uri := &url.URL{
		Scheme:   "postgres",
		Host:     pgEnv("DATABASE_HOST", "localhost") + ":" + port,
		Path:     "/" + pgEnv("DATABASE_NAME", "pressgate"),
		RawQuery: url.Values{"sslmode": {pgEnv("DATABASE_SSLMODE", "disable")}}.Encode(),
	}
	user := pgEnv("DATABASE_USER", "pressgate")
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		uri.User = url.UserPassword(user, password)
	} else {
		uri.User = url.User(user)
	}
	return uri.String()
}

func validatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch mode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode"))); mode {
	case "require", "verify-ca", "verify-full":
		return nil
	case "":
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true requires explicit sslmode=require|verify-ca|verify-full")
	default:
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true but DATABASE_URL sslmode=%q is insecure", mode)
	}
}

func requiresSecureTransport(envKey string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
