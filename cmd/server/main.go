// Package main is the entry point for the Door Access Manager server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/door-access-manager/backend/internal/api"
	"github.com/door-access-manager/backend/internal/config"
	"github.com/door-access-manager/backend/internal/dispatch"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/notify"
	"github.com/door-access-manager/backend/internal/providers/homeassistant"
	"github.com/door-access-manager/backend/internal/providers/zwavejsui"
	"github.com/door-access-manager/backend/internal/storage"
	"github.com/door-access-manager/backend/internal/token"
	"github.com/door-access-manager/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to YAML configuration file")
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database file (overrides config)")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log.Printf("Starting Door Access Manager (version: %s)...", version)

	// Initialize database
	db, err := storage.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize repositories
	profileRepo := storage.NewProfileRepository(db)
	historyRepo := storage.NewHistoryRepository(db)
	notificationRepo := storage.NewNotificationRepository(db)
	bookingRepo := storage.NewBookingRepository(db)

	// Register integration providers
	registry := integration.NewRegistry(profileRepo, cfg.Integrations.Suppress)
	registry.Register(homeassistant.Alias, homeassistant.New)
	registry.Register(zwavejsui.Alias, zwavejsui.New)

	// Wire the dispatch core
	notifier := notify.NewFanout(notificationRepo, broadcaster)
	dispatcher := dispatch.NewDispatcher(registry, historyRepo, notifier, bookingRepo)
	parser := token.NewParser(registry, historyRepo)

	// Start the cron scheduler
	var scheduler *dispatch.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = dispatch.NewScheduler(dispatcher, dispatch.SchedulerConfig{
			UpcomingArrivalsSpec: cfg.Scheduler.UpcomingArrivalsSpec,
			FirstAccessSpec:      cfg.Scheduler.FirstAccessSpec,
			CleanupSpec:          cfg.Scheduler.CleanupSpec,
		})
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	// Initialize HTTP router
	router := api.NewRouter(api.Deps{
		DB:            db,
		Hub:           hub,
		Broadcaster:   broadcaster,
		Registry:      registry,
		Dispatcher:    dispatcher,
		Parser:        parser,
		Profiles:      profileRepo,
		Bookings:      bookingRepo,
		History:       historyRepo,
		Notifications: notificationRepo,
		StaticDir:     cfg.Server.StaticDir,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
