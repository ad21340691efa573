package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arena-data/mocap.bridge/internal/api"
	"github.com/arena-data/mocap.bridge/internal/bridge"
	"github.com/arena-data/mocap.bridge/internal/db"
	"github.com/arena-data/mocap.bridge/internal/publish"
)

var (
	dbFile      = flag.String("db", "mocap_bridge.db", "Path to the sqlite config database")
	listen      = flag.String("listen", ":8080", "Listen address for the admin API")
	jsonlPath   = flag.String("jsonl", "", "Write pose events as JSON lines to this file (\"-\" for stdout, empty to disable)")
	forwardAddr = flag.String("forward", "", "Forward pose events as UDP JSON datagrams to this host (empty to disable)")
	forwardPort = flag.Int("forward-port", 9851, "UDP port for pose forwarding")
)

const forwarderLogInterval = 10 * time.Second

// seedDefaultConfig inserts a starter connection row on first run so the
// daemon comes up streaming against a stock OptiTrack multicast setup
// without any API calls.
func seedDefaultConfig(database *db.DB) error {
	configs, err := database.GetConnectionConfigs()
	if err != nil {
		return err
	}
	if len(configs) > 0 {
		return nil
	}
	_, err = database.CreateConnectionConfig(&db.ConnectionConfig{
		Name:             "default",
		Enabled:          true,
		CommandPort:      1511,
		DataPort:         1510,
		MulticastAddress: "239.255.42.99",
		Description:      "Default OptiTrack multicast connection",
	})
	if err != nil {
		return err
	}
	log.Printf("seeded default connection config")
	return nil
}

// serveAdminAPI runs the admin HTTP server until ctx is cancelled, then
// shuts it down gracefully. A listen failure calls stop so the whole
// daemon winds down through the normal shutdown path.
func serveAdminAPI(ctx context.Context, server *http.Server, stop context.CancelFunc) {
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := seedDefaultConfig(database); err != nil {
		log.Fatalf("Failed to seed config database: %v", err)
	}

	cfg, snap, err := bridge.LoadStoredConnectionConfig(database)
	if err != nil {
		log.Fatalf("Failed to load connection config: %v", err)
	}

	hub := publish.NewHub()
	defer hub.Close()

	b := bridge.NewBridge(bridge.BridgeConfig{
		Connection:    cfg,
		NewDispatcher: publish.NewDispatcherFactory(database, hub),
	})
	manager := bridge.NewManager(b, database, snap)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the polling routine that owns the connection lifecycle
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("bridge terminated: %v", err)
		}
		log.Print("bridge routine terminated")
	}()

	if *jsonlPath != "" {
		out := os.Stdout
		if *jsonlPath != "-" {
			f, err := os.OpenFile(*jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				log.Fatalf("Failed to open JSONL output file: %v", err)
			}
			defer f.Close()
			out = f
		}
		writer := publish.NewJSONLWriter(out)
		id, events := hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer hub.Unsubscribe(id)
			writer.Consume(ctx, events)
			log.Print("jsonl routine terminated")
		}()
	}

	if *forwardAddr != "" {
		forwarder, err := publish.NewPoseForwarder(*forwardAddr, *forwardPort, forwarderLogInterval)
		if err != nil {
			log.Fatalf("Failed to create pose forwarder: %v", err)
		}
		defer forwarder.Close()
		forwarder.Start(ctx)
		id, events := hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer hub.Unsubscribe(id)
			forwarder.Consume(ctx, events)
			log.Print("forwarder routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.NewServer(b, manager, database).Handler(),
		}
		serveAdminAPI(ctx, server, stop)
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
