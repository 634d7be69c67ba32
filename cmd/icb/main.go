// Package main implements the instrument console bridge daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/instrument-control/icb/internal/api"
	"github.com/instrument-control/icb/internal/audit"
	"github.com/instrument-control/icb/internal/auth"
	"github.com/instrument-control/icb/internal/bridge"
	"github.com/instrument-control/icb/internal/channel"
	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/monitor"
	"github.com/instrument-control/icb/internal/telemetry"
	"github.com/instrument-control/icb/internal/validate"
)

const Version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	log.Printf("Starting instrument console bridge v%s", Version)

	// Step 1: Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully")

	// Step 2: Initialize telemetry hub
	telemetryHub := telemetry.NewHub(cfg.Telemetry)
	log.Println("Telemetry hub initialized")

	// Step 3: Initialize audit logger
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}
	log.Printf("Audit logger initialized (%s)", auditLogger.Path())

	// Step 4: Open the console channel
	ch, err := channel.New(cfg.Medium)
	if err != nil {
		log.Fatalf("Failed to open console channel: %v", err)
	}
	log.Printf("Console channel open (command=%s response=%s)",
		cfg.Medium.CommandFile, cfg.Medium.ResponseFile)

	// Step 5: Create the bridge with validator and monitor
	br := bridge.New(ch, cfg)
	br.SetAuditLogger(auditLogger)
	br.SetTelemetryHub(telemetryHub)
	br.SetValidator(validate.New(br, cfg))
	mon := monitor.New(br, cfg)

	// Step 6: Create API server, with auth when a secret is configured
	var server *api.Server
	readTimeout := time.Duration(cfg.API.ReadTimeoutSec) * time.Second
	writeTimeout := time.Duration(cfg.API.WriteTimeoutSec) * time.Second
	idleTimeout := time.Duration(cfg.API.IdleTimeoutSec) * time.Second
	if cfg.API.AuthSecret != "" {
		verifier, err := auth.NewVerifier(cfg.API.AuthSecret)
		if err != nil {
			log.Fatalf("Failed to initialize auth: %v", err)
		}
		server = api.NewServerWithAuth(br, mon, telemetryHub, auth.NewMiddleware(verifier),
			readTimeout, writeTimeout, idleTimeout)
		log.Println("API server created (auth enabled)")
	} else {
		server = api.NewServer(br, mon, telemetryHub, readTimeout, writeTimeout, idleTimeout)
		log.Println("API server created (auth disabled: ICB_AUTH_SECRET not set)")
	}

	// Step 7: Start HTTP server
	log.Printf("Starting HTTP server on %s", cfg.API.Addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	log.Printf("Instrument console bridge started successfully")
	log.Printf("Health endpoint: http://localhost%s/api/v1/health", cfg.API.Addr)

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	telemetryHub.Stop()
	log.Println("Telemetry hub stopped")

	if err := ch.Close(); err != nil {
		log.Printf("Error closing console channel: %v", err)
	}

	if err := auditLogger.Close(); err != nil {
		log.Printf("Error closing audit logger: %v", err)
	}
	log.Println("Audit logger closed")

	log.Println("Instrument console bridge shutdown complete")
}
