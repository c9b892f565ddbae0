package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prathamssaraf/mouse-video-compressor/internal/api"
	"github.com/prathamssaraf/mouse-video-compressor/internal/core"
	"github.com/prathamssaraf/mouse-video-compressor/internal/jobs"
	"github.com/prathamssaraf/mouse-video-compressor/internal/watcher"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Open the push channel and catch up on jobs that finished while the
	// daemon was down.
	app.Session.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := app.Session.Reconcile(ctx); err != nil {
		log.Printf("Warning: initial reconciliation failed: %v", err)
	}
	cancel()

	// Start the periodic reconciliation schedule.
	scheduler := jobs.StartScheduler(app.Session, app.Config.ReconcileInterval)
	defer scheduler.Stop()

	// Watch the drop directory for new recordings, if one is configured.
	if app.Config.Watch.Path != "" {
		watchService := watcher.NewService(app.Config.Watch.Path, app.Session, app.Config.Watch.AutoAnalyze)
		if err := watchService.Start(); err != nil {
			log.Printf("Warning: could not watch %s: %v", app.Config.Watch.Path, err)
		} else {
			defer watchService.Stop()
		}
	}

	// Setup the status API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting status server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Create a context with a timeout to allow existing connections to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
