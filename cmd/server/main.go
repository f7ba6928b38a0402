package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"kasaba/backend/internal/config"
	"kasaba/backend/internal/httpapi"
	"kasaba/backend/internal/notify"
	"kasaba/backend/internal/objstore"
	"kasaba/backend/internal/queue"
	"kasaba/backend/internal/service"
	"kasaba/backend/internal/store"
	"kasaba/backend/internal/store/memory"
	pgstore "kasaba/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env: %v", err)
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	offlineQueue := queue.Queue(queue.NewMemory())
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable (%v), using in-memory offline queue", err)
		} else {
			offlineQueue = queue.NewRedis(client)
			closers = append(closers, client.Close)
			log.Println("offline queue: redis")
		}
	} else {
		log.Println("offline queue: in-memory")
	}

	uploader := objstore.Uploader(objstore.Noop{})
	if cfg.GCSBucket != "" {
		var credentials []byte
		if cfg.GCSCredentialsFile != "" {
			raw, err := os.ReadFile(cfg.GCSCredentialsFile)
			if err != nil {
				log.Fatalf("read GCS credentials: %v", err)
			}
			credentials = raw
		}
		gcs, err := objstore.NewGCS(ctx, cfg.GCSBucket, credentials)
		if err != nil {
			log.Fatalf("object storage unavailable: %v", err)
		}
		uploader = gcs
		closers = append(closers, gcs.Close)
		log.Println("object storage: gcs")
	} else {
		log.Println("object storage: disabled")
	}

	notifier := notify.Notifier(notify.Noop{})
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyWebhookURL)
		log.Println("order notifications: webhook")
	}

	svc := service.New(repo, offlineQueue, uploader, notifier)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ledger backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
