package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tillpoint-offline-sync/internal/api"
	"tillpoint-offline-sync/internal/cache"
	"tillpoint-offline-sync/internal/config"
	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/handler"
	"tillpoint-offline-sync/internal/readpath"
	"tillpoint-offline-sync/internal/recorder"
	"tillpoint-offline-sync/internal/router"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/internal/syncer"
)

const version = "2.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.MustLoad()
	log.Printf("[Main] Starting %s v%s (%s)", cfg.App.Name, version, cfg.App.Environment)

	// Local persistent store. Everything else degrades; this must open.
	st, err := store.Open(cfg.Store.Path, store.Options{
		QuotaBytes:    cfg.Store.QuotaBytes,
		RetryAttempts: cfg.Store.RetryAttempts,
		RetryDelay:    cfg.Store.RetryDelay,
	})
	if err != nil {
		log.Fatalf("[Main] Failed to open store at %s: %v", cfg.Store.Path, err)
	}
	defer st.Close()
	log.Printf("[Main] Store open at %s (quota %d MiB)", cfg.Store.Path, cfg.Store.QuotaBytes>>20)

	client := api.New(cfg.Backend.BaseURL, cfg.Backend.AuthToken, cfg.Backend.RequestTimeout)

	probeHost := cfg.Backend.ProbeHost
	if probeHost == "" {
		probeHost = client.Host()
	}
	monitor := connectivity.New(probeHost, cfg.Backend.ProbeInterval)
	monitor.Start()
	defer monitor.Stop()

	hot := buildCache(cfg)
	defer hot.Close()

	rec := recorder.New(st, client, monitor)
	sel := readpath.New(st, client, monitor, hot, cfg.Cache.TTL)

	sy := syncer.New(st, client, monitor, hot, syncer.Config{
		Interval:    cfg.Sync.Interval,
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
		TerminalID:  cfg.App.TerminalID,
	})
	sy.Start()
	defer sy.Stop()

	mux := router.New(router.Config{
		Health:         handler.NewHealthHandler(st, monitor, version),
		Pos:            handler.NewPosHandler(sel, rec),
		Sync:           handler.NewSyncHandler(st, sy, monitor),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[Main] Status surface listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Main] Forced shutdown: %v", err)
	}
	log.Println("[Main] Stopped")
}

// buildCache creates the hot cache per configuration, falling back to the
// in-process cache when Redis is unreachable. The hot cache only accelerates
// dashboard reads and token verification, so a fallback is safe.
func buildCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Type == "redis" {
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err == nil {
			log.Printf("[Main] Hot cache: redis at %s", cfg.Cache.RedisAddress())
			return c
		}
		log.Printf("[Main] Redis unavailable (%v), falling back to memory cache", err)
	}
	log.Println("[Main] Hot cache: in-memory")
	return cache.NewMemoryCache()
}
