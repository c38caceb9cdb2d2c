package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinaxis/emr-access/internal/policy"
	"github.com/clinaxis/emr-access/pkg/config"
	"github.com/clinaxis/emr-access/pkg/database"
	"github.com/clinaxis/emr-access/pkg/logger"
	"github.com/clinaxis/emr-access/pkg/monitoring"
	"github.com/clinaxis/emr-access/pkg/repository"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithField("version", serviceVersion).Info("Starting access service")

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.CreateSchema(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("Failed to create database schema")
	}
	cancel()

	// Core engine wiring.
	registry := policy.NewBaselineRegistry()
	store := repository.NewOverrideRepository(db.DB, log)
	audit := repository.NewAuditRepository(db.DB, log)
	resolver := policy.NewResolver(registry, store, log, cfg.Cache.Enabled)
	gate := policy.NewAuthorizationGate(resolver, log)
	handlers := policy.NewHandlers(registry, store, resolver, gate, audit, log)

	healthManager := monitoring.NewHealthManager("access-service", serviceVersion)
	healthManager.RegisterChecker("database", monitoring.NewDatabaseChecker(db.DB))

	router := mux.NewRouter()

	// Health and metrics stay outside authentication.
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.HealthPath, healthManager.Handler()).Methods("GET")
		router.Handle(cfg.Monitoring.MetricsPath, monitoring.MetricsHandler()).Methods("GET")
	}

	apiRouter := router.PathPrefix("/").Subrouter()
	apiRouter.Use(monitoring.HTTPMiddleware)
	apiRouter.Use(policy.NewAuthMiddleware(cfg.JWT.SecretKey, log).Handler)
	handlers.RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("address", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for a shutdown signal, then drain in-flight requests.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down access service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Access service stopped")
}
