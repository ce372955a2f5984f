package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/halyard-ssh/halyard/internal/api"
	"github.com/halyard-ssh/halyard/internal/config"
	"github.com/halyard-ssh/halyard/internal/events"
	"github.com/halyard-ssh/halyard/internal/keystore"
	"github.com/halyard-ssh/halyard/internal/logging"
	"github.com/halyard-ssh/halyard/internal/session"
	"github.com/halyard-ssh/halyard/internal/transfer"
)

func main() {
	config.Load()
	logging.Init()

	secret, err := keystore.LoadOrCreateSecret(filepath.Join(config.Cfg.DataPath, "secret.key"))
	if err != nil {
		log.Fatalf("Encryption secret init: %v", err)
	}

	bus := events.NewBus()

	keys, err := keystore.NewStore(filepath.Join(config.Cfg.DataPath, "keys"), secret, bus)
	if err != nil {
		log.Fatalf("Key store init: %v", err)
	}
	gen := keystore.NewGenerator(keys)

	reg := session.NewRegistry(bus, session.Options{
		ConnectTimeout:    config.Cfg.ConnectTimeout,
		KeepaliveInterval: config.Cfg.KeepaliveInterval,
		DisconnectGrace:   config.Cfg.DisconnectGrace,
		ReconnectAttempts: config.Cfg.ReconnectAttempts,
	})
	exec := session.NewExecutor(reg)
	files := transfer.NewEngine(reg)

	srvAPI := api.NewServer(reg, exec, files, keys, gen, bus)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Mount("/", srvAPI.Routes())

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	if err := reg.DisconnectAll(); err != nil {
		log.Printf("Session shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
