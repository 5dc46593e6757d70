package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/refinery29/highwind"
	"github.com/refinery29/highwind/internal/config"
)

func main() {
	configDir := flag.String("config", "", "Directory containing YAML configuration files")
	configFile := flag.String("file", "", "Path to a specific YAML configuration file")
	flag.Parse()

	var (
		configs []*highwind.Settings
		err     error
	)

	if *configFile != "" {
		settings, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Error loading configuration file: %v", err)
		}
		configs = []*highwind.Settings{settings}
	} else {
		dir := *configDir
		if dir == "" {
			dir = config.Dir()
		}

		configs, err = config.LoadFromDir(dir)
		if err != nil {
			log.Fatalf("Error loading configuration files: %v", err)
		}
	}

	// Each settings file runs as its own isolated instance.
	var servers []*highwind.Server
	for _, settings := range configs {
		srv, err := highwind.Start(settings)
		if err != nil {
			for _, started := range servers {
				started.Close()
			}
			log.Fatalf("Error starting servers: %v", err)
		}
		servers = append(servers, srv)
	}

	log.Println("All servers started successfully")

	// Wait for interrupt signal to gracefully shut down the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down servers...")
	for _, srv := range servers {
		if err := srv.Close(); err != nil {
			log.Printf("Error closing servers: %v", err)
		}
	}
	log.Println("Servers stopped")
}
