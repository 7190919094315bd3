package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/orbit-sh/orbitd/internal/api"
	"github.com/orbit-sh/orbitd/internal/metrics"
	natsclient "github.com/orbit-sh/orbitd/internal/nats"
	"github.com/orbit-sh/orbitd/internal/server"
	"github.com/orbit-sh/orbitd/internal/storage"
)

func main() {
	httpAddr := flag.String("http-addr", ":8080", "control API listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	dbPath := flag.String("db", "./data/badger", "Badger DB path")
	natsURL := flag.String("nats", "", "NATS server URL for action events (empty disables publishing)")
	tickInterval := flag.Duration("tick-interval", 2*time.Second, "reconcile tick interval")
	trace := flag.Bool("trace", false, "emit OpenTelemetry spans to stdout")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if *trace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatalw("failed to build trace exporter", "err", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	store, err := storage.NewBadgerStore(*dbPath)
	if err != nil {
		log.Fatalw("failed to open badger store", "path", *dbPath, "err", err)
	}
	defer store.Close()

	var pub *natsclient.Publisher
	if *natsURL != "" {
		pub, err = natsclient.NewPublisher(*natsURL, log)
		if err != nil {
			// Events are advisory; run without them rather than refuse to start.
			log.Warnw("nats unavailable, events disabled", "url", *natsURL, "err", err)
		} else {
			defer pub.Close()
		}
	}

	srv := server.New(store, pub, log)
	if err := srv.Restore(context.Background()); err != nil {
		log.Fatalw("failed to restore state", "err", err)
	}

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: api.NewHTTPHandler(srv, log),
	}
	go func() {
		log.Infow("control API listening", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http listen", "err", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metrics.RegisterMetrics(metricsMux)
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		log.Infow("metrics listening", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("metrics listen", "err", err)
		}
	}()

	// Tick loop: one reconcile step per interval, serialized with the
	// API by the server's lock.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				actions, err := srv.RunTick(context.Background())
				if err != nil {
					log.Errorw("tick failed", "err", err)
					continue
				}
				if len(actions) > 0 {
					log.Infow("reconciled", "actions", len(actions))
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutdown initiated")

	close(done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}
