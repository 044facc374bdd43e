package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"modelhub-worker/internal/config"
	"modelhub-worker/internal/logging"
	"modelhub-worker/internal/worker"
)

func main() {
	// 1. Load Configuration
	// It looks for config.yml in the working directory; env vars
	// (MHW_*) override file values.
	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Setup(cfg.LogFile)
	log.Printf("Starting ModelHub Worker: %s", cfg.WorkerID)

	// 2. Setup Context for Graceful Shutdown
	// We catch SIGINT (Ctrl+C) and SIGTERM (OS shutdown).
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down worker...")
		cancel()
	}()

	// 3. Run the worker loops until cancelled
	w := worker.New(cfg)
	w.Run(ctx)

	log.Println("Worker stopped.")
}
