package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/tile-weather-enrichment/internal/api/http"
	"github.com/i474232898/tile-weather-enrichment/internal/config"
	"github.com/i474232898/tile-weather-enrichment/internal/geo"
	"github.com/i474232898/tile-weather-enrichment/internal/httpcache"
	"github.com/i474232898/tile-weather-enrichment/internal/pipeline"
	"github.com/i474232898/tile-weather-enrichment/internal/scheduler"
	"github.com/i474232898/tile-weather-enrichment/internal/store"
	"github.com/i474232898/tile-weather-enrichment/internal/table"
	"github.com/i474232898/tile-weather-enrichment/internal/weather"
	"github.com/i474232898/tile-weather-enrichment/internal/weather/providers"
)

const usage = `Tile weather enrichment.

Usage:
  tile-weather-enrich run [--root=<dir>]
  tile-weather-enrich serve [--root=<dir>]
  tile-weather-enrich fetch --lat=<lat> --lng=<lng> --date=<date>
  tile-weather-enrich -h | --help

Options:
  -h --help          Show this screen.
  --root=<dir>       Directory holding the numbered tile directories (overrides ENRICH_ROOT).
  --lat=<lat>        Latitude in decimal degrees.
  --lng=<lng>        Longitude in decimal degrees.
  --date=<date>      Reference date, YYYY-MM-DD.
`

func main() {
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatalf("Error parsing arguments: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if root, _ := arguments.String("--root"); root != "" {
		cfg.Root = root
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Archive responses never change, so the Open-Meteo client goes through a persistent cache.
	cache, err := httpcache.Open(cfg.CachePath, cfg.CacheExpiry)
	if err != nil {
		log.Fatalf("failed to open response cache: %v", err)
	}
	if n, err := cache.Prune(context.Background()); err != nil {
		log.Printf("WARN: failed to prune response cache: %v", err)
	} else if n > 0 {
		log.Printf("INFO: pruned %d expired cache entries", n)
	}

	cachedClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: httpcache.NewTransport(cache, http.DefaultTransport),
	}

	// Providers with resilience (backoff + circuit breaker).
	openMeteo := providers.NewOpenMeteoProvider(cachedClient, cfg.OpenMeteoArchiveURL)
	meteostat := providers.NewMeteostatProvider(httpClient, cfg.MeteostatAPIKey, cfg.MeteostatBaseURL)

	service := weather.NewService(openMeteo, meteostat)

	if cmd, _ := arguments.Bool("fetch"); cmd {
		err := runFetch(arguments, service)
		cache.Close()
		if err != nil {
			log.Fatalf("fetch failed: %v", err)
		}
		return
	}

	locator, err := geo.NewLocator(geo.Options{
		RasterPattern: cfg.RasterPattern,
		TablePattern:  cfg.TablePattern,
		ManifestName:  cfg.ManifestName,
		SkipPrefix:    cfg.OutputPrefix,
	})
	if err != nil {
		cache.Close()
		log.Fatalf("failed to create locator: %v", err)
	}

	writer, err := table.NewWriter(table.Format(cfg.OutputFormat))
	if err != nil {
		cache.Close()
		log.Fatalf("failed to create writer: %v", err)
	}

	// In-memory report store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	pipe := pipeline.New(locator, service, writer, memStore, pipeline.Options{
		Root:         cfg.Root,
		First:        cfg.DirFirst,
		Last:         cfg.DirLast,
		OutputPrefix: cfg.OutputPrefix,
		Align: table.AlignOptions{
			Mode:       table.Mode(cfg.AlignMode),
			DateColumn: cfg.AlignDateColumn,
		},
	})

	if cmd, _ := arguments.Bool("serve"); cmd {
		serve(cfg, pipe, memStore, service)
		cache.Close()
		return
	}

	if code := runOnce(pipe, cache); code != 0 {
		os.Exit(code)
	}
}

// runner is satisfied by *pipeline.Pipeline.
type runner interface {
	Run(ctx context.Context) pipeline.Summary
}

// runOnce performs a single pass and releases resources before returning the
// exit code, since os.Exit skips deferred calls.
func runOnce(pipe runner, resources ...io.Closer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	summary := pipe.Run(ctx)
	stop()

	for _, r := range resources {
		if err := r.Close(); err != nil {
			log.Printf("WARN: failed to close resource: %v", err)
		}
	}

	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func runFetch(arguments docopt.Opts, service *weather.Service) error {
	lat, err := arguments.Float64("--lat")
	if err != nil {
		return fmt.Errorf("invalid --lat: %w", err)
	}
	lng, err := arguments.Float64("--lng")
	if err != nil {
		return fmt.Errorf("invalid --lng: %w", err)
	}
	dateStr, _ := arguments.String("--date")
	date, err := time.Parse(weather.DateLayout, dateStr)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	merged, err := service.FetchMerged(ctx, weather.Point{Lat: lat, Lon: lng}, date)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func serve(cfg *config.AppConfig, pipe *pipeline.Pipeline, reports *store.MemoryStore, service *weather.Service) {
	// Scheduler that periodically re-runs the pipeline.
	sched := scheduler.New(cfg.ScheduleInterval, cfg.ScheduleInterval, pipe)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "tile-weather-enrich",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "tile-weather-enrich",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Reports: reports,
		Runner:  pipe,
		Weather: service,
	})

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
