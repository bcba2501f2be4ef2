package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/tile-weather-enrichment/internal/httpcache"
)

var validate = validator.New()

type AppConfig struct {
	// Tile directories are Root/00 .. Root/20 by default.
	Root     string `validate:"required"`
	DirFirst int    `validate:"gte=0,lte=99"`
	DirLast  int    `validate:"gte=0,lte=99,gtefield=DirFirst"`

	// Discovery.
	RasterPattern string `validate:"required"`
	TablePattern  string `validate:"required"`
	ManifestName  string `validate:"required"`

	// Output.
	OutputPrefix    string `validate:"required"`
	OutputFormat    string `validate:"oneof=csv parquet"`
	AlignMode       string `validate:"oneof=positional date"`
	AlignDateColumn string `validate:"required"`

	// Providers.
	MeteostatAPIKey     string
	MeteostatBaseURL    string        `validate:"required,url"`
	OpenMeteoArchiveURL string        `validate:"required,url"`
	HTTPTimeout         time.Duration `validate:"gt=0"`

	// Open-Meteo archive response cache.
	CachePath   string                 `validate:"required"`
	CacheExpiry httpcache.ExpiryPolicy `validate:"-"`

	// Run report retention.
	StoreMaxHistory int           // max number of reports per directory (0 = unlimited)
	StoreMaxAge     time.Duration // max age of reports (0 = unlimited)

	// Serve mode.
	ScheduleInterval time.Duration `validate:"gte=0"`
	Port             string        `validate:"required,numeric"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Root = getenvDefault("ENRICH_ROOT", ".")
	cfg.DirFirst = getenvInt("ENRICH_DIR_FIRST", 0)
	cfg.DirLast = getenvInt("ENRICH_DIR_LAST", 20)

	cfg.RasterPattern = getenvDefault("RASTER_PATTERN", `.*\.tiff$`)
	cfg.TablePattern = getenvDefault("TABLE_PATTERN", `.*\.csv$`)
	cfg.ManifestName = getenvDefault("MANIFEST_NAME", "manifest.yaml")

	cfg.OutputPrefix = getenvDefault("OUTPUT_PREFIX", "saturated_")
	cfg.OutputFormat = getenvDefault("OUTPUT_FORMAT", "csv")
	cfg.AlignMode = getenvDefault("ALIGN_MODE", "positional")
	cfg.AlignDateColumn = getenvDefault("ALIGN_DATE_COLUMN", "date")

	cfg.MeteostatAPIKey = os.Getenv("METEOSTAT_API_KEY")
	cfg.MeteostatBaseURL = getenvDefault("METEOSTAT_BASE_URL", "https://meteostat.p.rapidapi.com/point/daily")
	cfg.OpenMeteoArchiveURL = getenvDefault("OPENMETEO_ARCHIVE_URL", "https://archive-api.open-meteo.com/v1/archive")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}

	cfg.CachePath = getenvDefault("HTTP_CACHE_PATH", ".cache/openmeteo.sqlite")
	if cfg.CacheExpiry, err = httpcache.ParseExpiry(getenvDefault("HTTP_CACHE_EXPIRE_AFTER", "never")); err != nil {
		return nil, fmt.Errorf("invalid HTTP_CACHE_EXPIRE_AFTER: %w", err)
	}

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 100)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	if cfg.ScheduleInterval, err = getenvDuration("SCHEDULE_INTERVAL", "0"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
