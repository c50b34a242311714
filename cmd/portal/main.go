package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sendrec/portal/internal/auth"
	"github.com/sendrec/portal/internal/database"
	"github.com/sendrec/portal/internal/server"
	"github.com/sendrec/portal/internal/signal"
	"github.com/sendrec/portal/internal/unlock"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	serve()
}

func serve() {
	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	bus, closeBus, err := newBus(ctx, os.Getenv("REDIS_URL"))
	if err != nil {
		log.Fatalf("signal bus setup failed: %v", err)
	}
	defer closeBus()

	srv, err := server.New(server.Config{
		DB:          db.Pool,
		Pinger:      db,
		Bus:         bus,
		JWTSecret:   jwtSecret,
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		VerifyRate:  getEnvFloat("VERIFY_RATE_PER_SECOND", server.DefaultVerifyRate),
		VerifyBurst: int(getEnvInt64("VERIFY_BURST", server.DefaultVerifyBurst)),
		EnableDocs:  getEnv("API_DOCS_ENABLED", "false") == "true",
	})
	if err != nil {
		log.Fatal(err)
	}

	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	defer purgeCancel()
	unlock.StartPurgeLoop(purgeCtx, db.Pool,
		getEnvDuration("SESSION_PURGE_INTERVAL", time.Hour),
		getEnvDuration("SESSION_MAX_AGE", 30*24*time.Hour),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	ossignal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("portal listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	slog.Info("shutdown complete")
}

// newBus returns a Redis-backed bus when redisURL is set. Learner processes
// can only be reached through Redis, so without it there is no bus and the
// refresh-signal endpoint reports itself unavailable.
func newBus(ctx context.Context, redisURL string) (signal.Bus, func(), error) {
	if redisURL == "" {
		slog.Warn("REDIS_URL not set, refresh signals disabled")
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return signal.NewRedisBus(client), func() { _ = client.Close() }, nil
}

// runToken mints an access token for local use and scripting.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID to embed in the token")
	role := fs.String("role", auth.RoleLearner, "token role: learner or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("token: -user is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("token: JWT_SECRET is required")
	}

	token, err := auth.GenerateAccessToken(secret, *userID, *role)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
