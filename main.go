package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyStreakAPI/handlers"
	"studyStreakAPI/internal/cache"
	"studyStreakAPI/internal/config"
	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/notification"
	"studyStreakAPI/internal/scheduler"
	"studyStreakAPI/internal/storage/postgres"
	"studyStreakAPI/internal/storage/sqlite"
	"studyStreakAPI/internal/types/streak"
	"studyStreakAPI/middleware"
	"studyStreakAPI/services"

	_ "net/http/pprof"
)

type streakStore interface {
	streak.Store
	handlers.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	clerk.SetKey(cfg.ClerkSecretKey)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbPool, err := newPool(ctx, cfg.DBURL)
	if err != nil {
		cancel()
		appLog.Fatal("failed to connect to database", "error", err)
	}
	defer func() {
		appLog.Info("closing database connection pool")
		dbPool.Close()
	}()

	if err := postgres.Migrate(ctx, dbPool); err != nil {
		cancel()
		appLog.Fatal("failed to migrate database", "error", err)
	}
	cancel()
	appLog.Info("connected to postgres")

	store, closeStore, err := newStreakStore(cfg, dbPool)
	if err != nil {
		appLog.Fatal("failed to open streak store", "store", cfg.Store, "error", err)
	}
	defer closeStore()
	appLog.Info("streak store ready", "store", cfg.Store)

	checks := map[string]handlers.Pinger{"database": dbPool, "streak_store": store}

	streakService := services.NewStreakService(store, appLog)
	if cfg.RedisAddr != "" {
		statusCache, err := cache.NewStatusCache(cfg.RedisAddr, cfg.StatusCacheTTL, appLog)
		if err != nil {
			appLog.Warn("status cache disabled", "error", err)
		} else {
			defer statusCache.Close()
			streakService.SetStatusCache(statusCache)
			checks["cache"] = statusCache
		}
	}

	userService := services.NewUserService(dbPool, appLog)
	notificationService := services.NewNotificationService(dbPool, appLog)
	defer notificationService.Stop()

	fcmService, err := notification.NewFCMService(cfg.FCMCredentialsFile, appLog)
	if err != nil {
		appLog.Warn("could not initialize FCM, pushes are disabled", "error", err)
	} else {
		notificationService.SetPushProvider(fcmService)
	}

	registry := prometheus.DefaultRegisterer
	middleware.InitPrometheus(registry)
	services.RegisterStreakMetrics(registry)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	jobs := scheduler.New(appLog)
	if err := jobs.ScheduleNotificationRetry(time.Minute, notificationService); err != nil {
		appLog.Fatal("failed to schedule notification retry", "error", err)
	}
	if err := jobs.ScheduleCleanup(time.Minute, rateLimiter); err != nil {
		appLog.Fatal("failed to schedule rate limiter cleanup", "error", err)
	}
	jobs.Start()
	defer jobs.Stop()

	streakHandler := handlers.NewStreakHandler(streakService, userService, notificationService, appLog)
	notificationHandler := handlers.NewNotificationHandler(notificationService, userService, appLog)
	userHandler := handlers.NewUserHandler(userService, streakService, appLog)
	webhookHandler, err := handlers.NewWebhookHandler(userService, cfg.ClerkWebhookSecret, appLog)
	if err != nil {
		appLog.Fatal("failed to create webhook handler", "error", err)
	}

	r := mux.NewRouter()
	r.Use(rateLimiter.Middleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(cfg.PprofSecret)(http.DefaultServeMux))
	r.HandleFunc("/health", handlers.HealthHandler(checks)).Methods("GET")

	if cfg.ClerkWebhookSecret != "" || !cfg.IsProduction() {
		r.HandleFunc("/webhooks/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")
	} else {
		appLog.Warn("CLERK_WEBHOOK_SECRET not set, clerk webhook disabled")
	}

	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware(middleware.ClerkVerifier, appLog))

	protected.HandleFunc("/activities/{type}", streakHandler.RecordActivity).Methods("POST")
	protected.HandleFunc("/streak/status", streakHandler.GetStatus).Methods("GET")
	protected.HandleFunc("/streak/history", streakHandler.GetHistory).Methods("GET")
	protected.HandleFunc("/notifications/devices", notificationHandler.RegisterDevice).Methods("POST")
	protected.HandleFunc("/user/profile", userHandler.GetProfile).Methods("GET")

	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Timezone", "X-Pprof-Secret"}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Info("starting server", "port", cfg.Port, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("error starting server", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	appLog.Info("got signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server shutdown error", "error", err)
	}

	appLog.Info("server shutdown complete")
}

func newPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newStreakStore(cfg *config.Config, dbPool *pgxpool.Pool) (streakStore, func(), error) {
	if cfg.Store == config.StoreSQLite {
		s, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return postgres.NewStreakStore(dbPool, cfg.LockTimeout), func() {}, nil
}
