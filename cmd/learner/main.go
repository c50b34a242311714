// Command learner is a terminal client for the portal. It keeps one learner
// session: unlocked sections and videos, playback state and background
// catalog refresh.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/database"
	"github.com/sendrec/portal/internal/portal"
	"github.com/sendrec/portal/internal/signal"
	"github.com/sendrec/portal/internal/unlock"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	token := os.Getenv("PORTAL_TOKEN")
	if token == "" {
		log.Fatal("PORTAL_TOKEN is required")
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := getEnv("SESSION_ID", portal.NewSessionID())

	var redisClient *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	storage, closeStorage, err := newStorage(ctx, getEnv("SESSION_STORE", "memory"), sessionID, redisClient)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStorage()

	var bus signal.Bus
	if redisClient != nil {
		bus = signal.NewRedisBus(redisClient)
	}

	session := portal.New(portal.Config{
		SessionID:       sessionID,
		Content:         content.NewClient(getEnv("PORTAL_URL", "http://localhost:8080"), token),
		Storage:         storage,
		Bus:             bus,
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 0),
		RetryDelay:      getEnvDuration("SIGNAL_RETRY_DELAY", 0),
		ScanInterval:    getEnvDuration("SCAN_INTERVAL", 0),
	})
	if err := session.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer session.Close()

	fmt.Printf("session %s\n", session.ID)
	r := newREPL(session, os.Stdout)
	if err := r.run(ctx, os.Stdin); err != nil {
		log.Fatal(err)
	}
}

// newStorage picks the unlock persistence backend. Postgres and Redis keep
// unlocks across restarts that reuse the same SESSION_ID.
func newStorage(ctx context.Context, kind, sessionID string, redisClient *redis.Client) (unlock.Storage, func(), error) {
	switch kind {
	case "memory":
		return unlock.NewMemoryStorage(), func() {}, nil
	case "postgres":
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("SESSION_STORE=postgres requires DATABASE_URL")
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := database.Connect(connectCtx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect session store: %w", err)
		}
		return unlock.NewPostgresStorage(db.Pool, sessionID), db.Close, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("SESSION_STORE=redis requires REDIS_URL")
		}
		ttl := getEnvDuration("SESSION_TTL", 12*time.Hour)
		return unlock.NewRedisStorage(redisClient, sessionID, ttl), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q (want memory, postgres or redis)", kind)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
