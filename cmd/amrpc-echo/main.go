// Command amrpc-echo is a minimal demonstration server: it registers a
// string RPC method, /echo, that answers with its argument upper-cased,
// and a heartbeat Publish topic, then serves
// until it receives a shutdown signal.
//
// Called by: operators starting a standalone amrpc endpoint for manual
// testing or as a smoke-test target for client tooling.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/qtcdxxyuc/amrpc"
	"github.com/qtcdxxyuc/amrpc/config"
)

func main() {
	var cfg *config.Config
	var configSource string

	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		loadedCfg, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", configFile, err)
		}
		cfg = loadedCfg
		configSource = fmt.Sprintf("config file: %s", configFile)
	} else if config.FileExists("config/amrpc-echo.yaml") {
		loadedCfg, err := config.Load("config/amrpc-echo.yaml")
		if err != nil {
			log.Printf("Warning: config/amrpc-echo.yaml exists but failed to load: %v", err)
			log.Printf("Using hardcoded defaults instead")
			cfg = config.Default()
			configSource = "hardcoded defaults (config/amrpc-echo.yaml failed to parse)"
		} else {
			cfg = loadedCfg
			configSource = "config/amrpc-echo.yaml"
		}
	} else {
		log.Printf("No config file specified and config/amrpc-echo.yaml not found")
		cfg = config.Default()
		configSource = "hardcoded defaults"
	}

	log.Printf("Starting %s using %s", cfg.AppName, configSource)
	if cfg.Debug {
		log.Printf("Debug enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := amrpc.NewServer(cfg.Server.URI, amrpc.WithDebug(cfg.Server.Debug))
	if err != nil {
		log.Fatalf("Failed to bind %s: %v", cfg.Server.URI, err)
	}

	if err := srv.AddRPCString("/echo", func(ctx context.Context, arg string) (string, error) {
		return strings.ToUpper(arg), nil
	}); err != nil {
		log.Fatalf("Failed to register /echo: %v", err)
	}

	if err := srv.AddPublishString("/heartbeat", cfg.Server.PublishQueueSize); err != nil {
		log.Fatalf("Failed to register /heartbeat: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runHeartbeat(ctx, srv, time.Duration(cfg.Server.HeartbeatMillis)*time.Millisecond)
	}()

	log.Printf("amrpc-echo listening on %s", cfg.Server.URI)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %s, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All services shut down successfully")
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timeout exceeded")
	}
}

// runHeartbeat publishes an incrementing sequence number on /heartbeat
// every interval until ctx is cancelled.
func runHeartbeat(ctx context.Context, srv *amrpc.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			msg := fmt.Sprintf("tick %d", seq)
			if err := srv.PublishString("/heartbeat", msg); err != nil {
				log.Printf("heartbeat publish failed: %v", err)
			}
		}
	}
}
