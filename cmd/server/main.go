// Command server runs an outpost federation node.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outpost/internal/bootstrap"
	"outpost/internal/config"
	"outpost/internal/observability"
	"outpost/internal/server"
)

// @title Outpost API
// @version 1.0
// @description ActivityPub federation node for Ghost sites: discovery, inboxes, collections, webhooks and the client API
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@outpost.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "outpost",
		ServiceVersion: server.Version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx := context.Background()
	db, rdb, err := bootstrap.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	rt, err := bootstrap.New(cfg, db, rdb, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to assemble runtime: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	srv := server.NewServer(rt)
	app := srv.NewApp()

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server resource shutdown error: %v", err)
		}
		if err := rt.Shutdown(ctx); err != nil {
			log.Printf("Runtime shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("Server starting on port %s...", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
	<-stopped
}
