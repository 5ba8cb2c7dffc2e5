package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/satsplit/satsplit/internal/api"
	"github.com/satsplit/satsplit/internal/auth"
	"github.com/satsplit/satsplit/internal/config"
	"github.com/satsplit/satsplit/internal/contacts"
	"github.com/satsplit/satsplit/internal/rates"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/service"
	"github.com/satsplit/satsplit/internal/storage/sqlite"
	"github.com/satsplit/satsplit/pkg/logging"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	registry := relay.NewRegistry(store)
	if err := registry.Load(context.Background()); err != nil {
		slog.Error("Failed to load relay list", "error", err)
		os.Exit(1)
	}
	slog.Info("Relay registry loaded", "relays", len(registry.Relays()))

	provider := rates.NewProvider()
	publisher := relay.NewPublisher()
	orch := service.NewOrchestrator(store, provider, registry, publisher)
	keys := service.NewKeyService(store)
	directory := contacts.NewDirectory(registry.ReadURLs)
	sessions := auth.NewSessionManager(store, cfg.SessionSecret,
		time.Duration(cfg.SessionTTLSeconds)*time.Second)

	server := api.NewServer(orch, keys, provider, registry, directory, sessions)

	root := chi.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	root.Mount("/", server.Router())

	// h2c allows HTTP/2 without TLS behind a local or terminating proxy.
	handler := h2c.NewHandler(root, &http2.Server{})

	addr := ":" + cfg.ServerPort
	slog.Info("Server starting", "address", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
