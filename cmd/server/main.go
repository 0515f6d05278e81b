// Package main provides the DSG load HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.ngs.io/dsg-ingest/internal/app"
	"go.ngs.io/dsg-ingest/internal/config"
	httpHandler "go.ngs.io/dsg-ingest/internal/http"
	"go.ngs.io/dsg-ingest/internal/logger"
	"go.ngs.io/dsg-ingest/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("dsg-ingest version %s\n", version)
		return
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	lg := logger.New(logger.Config{Level: level, Prefix: "[dsg]"})

	log.Printf("Starting DSG load server...")
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Datastore: %s", cfg.Datastore)
	log.Printf("Max concurrent loads: %d", cfg.MaxConcurrentLoads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if cfg.TerrainGridPath == "" {
		log.Printf("Terrain grid disabled (no altitude computation)")
	}

	jobs := usecase.NewJobs(a.Loads, cfg.MaxConcurrentLoads, lg)

	// Setup router.
	router := httpHandler.SetupRouter(jobs, httpHandler.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
	})

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("API endpoints:")
	log.Printf("  - POST /v1/loads")
	log.Printf("  - GET  /v1/loads")
	log.Printf("  - GET  /v1/loads/:id")
	log.Printf("  - GET  /metrics")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Printf("Loads still running at exit: %v", err)
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("DSG Load Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  dsg-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	for _, line := range envHelp {
		fmt.Println("  " + line)
	}
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with an embedded datastore")
	fmt.Println("  dsg-server")
	fmt.Println()
	fmt.Println("  # Start server against PostGIS with a terrain grid")
	fmt.Println("  DATASTORE=postgres DATABASE_URL=postgres://stoqs@localhost/stoqs \\")
	fmt.Println("    TERRAIN_GRID_PATH=./data/Monterey25.grd dsg-server")
	fmt.Println()
	fmt.Println("  # Queue a load")
	fmt.Println(`  curl -X POST localhost:8080/v1/loads -d '{"dataset_url": "http://dods.example.org/Dorado389_2010_300.nc",`)
	fmt.Println(`    "campaign_name": "Monterey Bay 2010", "activity_name": "Dorado389_2010_300",`)
	fmt.Println(`    "platform_name": "dorado", "platform_type": "auv"}'`)
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                   Health check")
	fmt.Println("  POST /v1/loads                 Queue a dataset load")
	fmt.Println("  GET  /v1/loads                 List loads (optional ?status=)")
	fmt.Println("  GET  /v1/loads/:id             Get load status and result")
	fmt.Println("  GET  /metrics                  Prometheus metrics")
	fmt.Println()
}

var envHelp = strings.Split(strings.TrimSpace(`
PORT                    Server port (default: 8080)
DATASTORE               postgres or bolt (default: bolt)
DATABASE_URL            PostgreSQL connection URL (required for postgres)
BOLT_PATH               Embedded database file (default: ./data/dsg.db)
TERRAIN_GRID_PATH       GMT terrain grid for altitude (optional)
DATASET_CACHE_DIR       Download directory for remote datasets (default: system temp)
HTTP_TIMEOUT            Dataset download timeout (default: 5m)
READ_RETRIES            Retries of transient download and read errors (default: 3)
MAX_CONCURRENT_LOADS    Loads running at once (default: 2)
LOG_LEVEL               error, warn, info or debug (default: info)
REDIS_ADDR              Shared parameter cache (optional)
REDIS_PASSWORD          Redis password (optional)
REDIS_DB                Redis database number (default: 0)
PARAMETER_CACHE_TTL     Parameter cache entry lifetime (default: 24h)
KAFKA_BROKERS           Comma-separated brokers for load events (optional)
KAFKA_TOPIC_LOADS       Load event topic (default: dsg.loads)
CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)`), "\n")
