package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/server"
)

func main() {
	// Parse flags
	port := flag.String("port", "", "Server port (overrides PORT)")
	pluginsDir := flag.String("plugins-dir", "", "Shared plugin storage directory (overrides PLUGINS_BASE_DIR)")
	servicesDir := flag.String("services-dir", "", "Service checkout and log directory (overrides SERVICES_DIR)")
	dev := flag.Bool("dev", false, "Development mode logging")
	flag.Parse()

	// Environment first, flags win
	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *pluginsDir != "" {
		cfg.Storage.PluginsBaseDir = *pluginsDir
	}
	if *servicesDir != "" {
		cfg.Storage.ServicesDir = *servicesDir
	}
	if *dev {
		cfg.Logging.Development = true
	}

	// Create server
	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
