package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"metismedia/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (db, redis, registry, sweeper).
// 3) Consume the event stream until interrupted.
func main() {
	log.Println("metismedia worker starting")
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("metismedia worker stopped with error: %v", err)
	}
}
