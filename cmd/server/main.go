package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-monitor/internal/api"
	"hls-monitor/internal/monitor"
	"hls-monitor/internal/platform/config"
	"hls-monitor/internal/platform/logger"
	"hls-monitor/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	monitorsFile := config.GetEnv("MONITORS_FILE", "")

	log := logger.New(logLevel, logFormat)

	met := metrics.New()
	fetcher := monitor.NewHTTPFetcher()
	registry := monitor.NewRegistry(fetcher, log, met)

	if monitorsFile != "" {
		bf, err := monitor.LoadBootstrapFile(monitorsFile)
		if err != nil {
			log.Error("bootstrap load failed", "file", monitorsFile, "error", err)
			os.Exit(1)
		}
		if err := bf.Apply(registry); err != nil {
			log.Error("bootstrap apply failed", "file", monitorsFile, "error", err)
			os.Exit(1)
		}
		log.Info("monitors bootstrapped", "file", monitorsFile, "count", len(bf.Monitors))
	}

	h := api.NewHandler(registry, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetMonitors(registry.Counts()) }).ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(h.Routes)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Stop polling loops and flush webhook queues before exiting.
	registry.DeleteAll()

	log.Info("server stopped")
}
