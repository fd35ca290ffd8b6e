package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"companion-tracking-backend/config"
	"companion-tracking-backend/internal/api"
	"companion-tracking-backend/internal/db"
	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/notify"
	"companion-tracking-backend/internal/track"
)

func main() {
	logger := log.New(os.Stdout, "companiond ", log.LstdFlags)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		logger.Println(".env file loaded")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("document store initialized")

	var liveFeed feed.Feed
	if cfg.Redis.Addr != "" {
		redisFeed, err := feed.NewRedisFeed(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.FeedTTL())
		if err != nil {
			logger.Fatalf("failed to connect to live data feed: %v", err)
		}
		defer redisFeed.Close()
		liveFeed = redisFeed
		logger.Printf("live data feed connected at %s", cfg.Redis.Addr)
	} else {
		liveFeed = feed.NewMemoryFeed()
		logger.Println("warning: no redis address configured, using in-process feed (development only)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerPool := notify.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	workerPool.Start(ctx)

	contexts := track.NewManager(gormDB, liveFeed, workerPool, cfg.ContextTTL())

	router := api.NewRouter(cfg, gormDB, liveFeed, contexts, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
