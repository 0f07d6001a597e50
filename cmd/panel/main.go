// Command panel starts the systemd operator dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/diprog/systemd-panel/internal/api"
	"github.com/diprog/systemd-panel/internal/auth"
	"github.com/diprog/systemd-panel/internal/journal"
	"github.com/diprog/systemd-panel/internal/observability/logging"
	"github.com/diprog/systemd-panel/internal/observability/metrics"
	"github.com/diprog/systemd-panel/internal/server"
	"github.com/diprog/systemd-panel/internal/statusbus"
	"github.com/diprog/systemd-panel/internal/systemd"
)

const (
	defaultAddr        = ":8080"
	defaultServiceDir  = "/etc/systemd/system"
	defaultRefresh     = 1500 * time.Millisecond
	defaultPurgePeriod = 15 * time.Minute
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	serviceDir := flag.String("service-dir", "", "directory scanned for managed .service units")
	tokenDigest := flag.String("token-sha256", "", "hex SHA-256 digest of the operator token")
	sessionTTL := flag.Duration("session-ttl", 0, "sliding session lifetime")
	refreshInterval := flag.Duration("refresh-interval", 0, "status refresh cadence when no action triggers one")
	probeLimit := flag.Int("probe-limit", 0, "maximum concurrent systemctl probes per snapshot")
	cookieSecure := flag.String("cookie-secure", "", "session cookie Secure attribute (auto or always)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	journalDriver := flag.String("journal-driver", "", "action journal driver (memory or postgres)")
	journalDSN := flag.String("journal-postgres-dsn", "", "Postgres connection string for the action journal")
	journalCapacity := flag.Int("journal-capacity", 0, "entries retained by the in-memory action journal")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SYSTEMD_PANEL_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("SYSTEMD_PANEL_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	digest := firstNonEmpty(*tokenDigest, os.Getenv("SYSTEMD_PANEL_TOKEN_SHA256"))
	if digest == "" {
		logger.Error("operator token digest is required (set -token-sha256 or SYSTEMD_PANEL_TOKEN_SHA256)")
		os.Exit(1)
	}
	manager, err := auth.NewManager(digest, resolveDuration(*sessionTTL, "SYSTEMD_PANEL_SESSION_TTL", auth.DefaultSessionTTL))
	if err != nil {
		logger.Error("invalid operator token digest", "error", err)
		os.Exit(1)
	}

	dir := firstNonEmpty(*serviceDir, os.Getenv("SYSTEMD_PANEL_SERVICE_DIR"), defaultServiceDir)
	units := systemd.NewManager(systemd.Config{
		Dir:        dir,
		Logger:     logging.WithComponent(logger, "systemd"),
		ProbeLimit: resolveInt(*probeLimit, "SYSTEMD_PANEL_PROBE_LIMIT"),
	})

	interval := resolveDuration(*refreshInterval, "SYSTEMD_PANEL_REFRESH_INTERVAL", defaultRefresh)
	registry := statusbus.NewRegistry(func(scope string) *statusbus.Bus {
		return statusbus.New(statusbus.Config{
			Provider:  units,
			Interval:  interval,
			Logger:    logging.WithComponent(logger, "statusbus"),
			OnRefresh: recorder.ObserveSnapshotRefresh,
		})
	})
	defer registry.Shutdown()

	store, storeCloser, err := openJournal(
		firstNonEmpty(*journalDriver, os.Getenv("SYSTEMD_PANEL_JOURNAL_DRIVER")),
		firstNonEmpty(*journalDSN, os.Getenv("SYSTEMD_PANEL_JOURNAL_POSTGRES_DSN")),
		resolveInt(*journalCapacity, "SYSTEMD_PANEL_JOURNAL_CAPACITY"),
	)
	if err != nil {
		logger.Error("failed to open action journal", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(manager, units, registry)
	handler.Journal = store
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.SessionCookiePolicy = resolveCookiePolicy(firstNonEmpty(*cookieSecure, os.Getenv("SYSTEMD_PANEL_COOKIE_SECURE")))

	srv, err := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("SYSTEMD_PANEL_ADDR"), defaultAddr),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("SYSTEMD_PANEL_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("SYSTEMD_PANEL_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "SYSTEMD_PANEL_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "SYSTEMD_PANEL_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "SYSTEMD_PANEL_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "SYSTEMD_PANEL_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("SYSTEMD_PANEL_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("SYSTEMD_PANEL_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*redisTimeout, "SYSTEMD_PANEL_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		Logger:      logger,
		AuditLogger: logging.WithComponent(logger, "audit"),
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeStop := startCredentialPurgeWorker(ctx, logging.WithComponent(logger, "credential-purger"), manager, defaultPurgePeriod)
	defer purgeStop()

	logger.Info("systemd panel listening",
		"addr", firstNonEmpty(*addr, os.Getenv("SYSTEMD_PANEL_ADDR"), defaultAddr),
		"service_dir", dir)
	if err := srv.Run(ctx, nil); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if storeCloser != nil {
		if err := storeCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close action journal", "error", err)
		}
	}
	logger.Info("server stopped")
}


func openJournal(driver, dsn string, capacity int) (journal.Store, func(context.Context) error, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return journal.NewMemoryStore(capacity), nil, nil
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("postgres journal selected without DSN")
		}
		store, err := journal.NewPostgresStore(context.Background(), journal.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "systemd-panel",
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
}

func resolveCookiePolicy(mode string) api.SessionCookiePolicy {
	policy := api.DefaultSessionCookiePolicy()
	if strings.EqualFold(strings.TrimSpace(mode), "always") {
		policy.SecureMode = api.SessionCookieSecureAlways
	}
	return policy
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
