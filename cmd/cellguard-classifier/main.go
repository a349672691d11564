package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/utils"
)

func main() {
	addr := flag.String("addr", ":8090", "Listen address")
	level := flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	format := flag.String("log-format", "auto", "Log format (auto|text|json)")
	flag.Parse()

	logger := utils.NewLogger(*level, *format)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	handler := &classifier.Handler{Engine: classifier.NewEngine(), Logger: logger}
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting classifier", "addr", *addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "classifier error: %v\n", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("error shutting down classifier", "error", err)
		}
	}
}
