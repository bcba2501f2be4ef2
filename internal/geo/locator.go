// Package geo discovers the raster and table of a tile directory and reads
// the raster's placement and acquisition date.
package geo

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

var (
	// ErrNotFound is the parent of every file discovery failure.
	ErrNotFound = errors.New("file not found")
	// ErrRasterNotFound is returned when a directory has no raster file.
	ErrRasterNotFound = fmt.Errorf("raster %w", ErrNotFound)
	// ErrTableNotFound is returned when a directory has no table file.
	ErrTableNotFound = fmt.Errorf("table %w", ErrNotFound)
	// ErrDateNotFound is returned when the raster path holds no YYYY-MM-DD date.
	ErrDateNotFound = errors.New("no acquisition date in raster path")
)

var isoDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

const (
	DefaultRasterPattern = `.*\.tiff$`
	DefaultTablePattern  = `.*\.csv$`
	DefaultManifestName  = "manifest.yaml"
)

// Tile is one located directory: its files, the raster's top-left corner,
// and the acquisition date. It is not modified after Locate returns.
type Tile struct {
	Dir        string
	RasterPath string
	TablePath  string
	Lat        float64
	Lon        float64
	Date       time.Time
	Bounds     *geom.Bounds
}

// Point returns the top-left corner as a weather query point.
func (t Tile) Point() weather.Point {
	return weather.Point{Lat: t.Lat, Lon: t.Lon}
}

// Footprint returns the raster extent as WKT, or "" when it cannot be encoded.
func (t Tile) Footprint() string {
	if t.Bounds == nil {
		return ""
	}
	s, err := wkt.Marshal(t.Bounds.Polygon())
	if err != nil {
		return ""
	}
	return s
}

// Manifest names a directory's files explicitly instead of relying on pattern discovery.
type Manifest struct {
	Raster string `yaml:"raster"`
	Table  string `yaml:"table"`
}

// Options configures discovery. Empty fields take the defaults.
type Options struct {
	RasterPattern string
	TablePattern  string
	ManifestName  string

	// SkipPrefix excludes generated files (earlier outputs) from pattern discovery.
	SkipPrefix string
}

// Locator finds tile files by manifest or by pattern.
type Locator struct {
	raster     *regexp.Regexp
	table      *regexp.Regexp
	manifest   string
	skipPrefix string
}

// NewLocator compiles the discovery patterns.
func NewLocator(opts Options) (*Locator, error) {
	if opts.RasterPattern == "" {
		opts.RasterPattern = DefaultRasterPattern
	}
	if opts.TablePattern == "" {
		opts.TablePattern = DefaultTablePattern
	}
	if opts.ManifestName == "" {
		opts.ManifestName = DefaultManifestName
	}

	raster, err := regexp.Compile(opts.RasterPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid raster pattern: %w", err)
	}
	table, err := regexp.Compile(opts.TablePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid table pattern: %w", err)
	}

	return &Locator{
		raster:     raster,
		table:      table,
		manifest:   opts.ManifestName,
		skipPrefix: opts.SkipPrefix,
	}, nil
}

// Locate discovers the directory's raster and table, reads the raster bounds,
// and parses the acquisition date from the raster path below the tile's parent.
func (l *Locator) Locate(dir string) (Tile, error) {
	m, err := l.readManifest(dir)
	if err != nil {
		return Tile{}, err
	}

	rasterPath, err := l.resolve(dir, m.Raster, l.raster, ErrRasterNotFound)
	if err != nil {
		return Tile{}, err
	}
	tablePath, err := l.resolve(dir, m.Table, l.table, ErrTableNotFound)
	if err != nil {
		return Tile{}, err
	}

	bounds, err := ReadBounds(rasterPath)
	if err != nil {
		return Tile{}, err
	}

	date, err := ParseDate(tileRelative(dir, rasterPath))
	if err != nil {
		return Tile{}, err
	}

	return Tile{
		Dir:        dir,
		RasterPath: rasterPath,
		TablePath:  tablePath,
		Lat:        bounds.Max(1),
		Lon:        bounds.Min(0),
		Date:       date,
		Bounds:     bounds,
	}, nil
}

// ParseDate returns the first valid YYYY-MM-DD substring of path.
func ParseDate(path string) (time.Time, error) {
	for _, m := range isoDate.FindAllString(path, -1) {
		if d, err := time.Parse(weather.DateLayout, m); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrDateNotFound, path)
}

// tileRelative returns rasterPath as "<tile dir name>/<path within dir>", so
// dates in the directories above the tile are never picked up.
func tileRelative(dir, rasterPath string) string {
	rel, err := filepath.Rel(dir, rasterPath)
	if err != nil {
		rel = filepath.Base(rasterPath)
	}
	return filepath.Join(filepath.Base(dir), rel)
}

func (l *Locator) readManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, l.manifest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", filepath.Join(dir, l.manifest), err)
	}
	return m, nil
}

// resolve returns the manifest-named file if set, otherwise the first directory
// entry matching pattern in directory listing order.
func (l *Locator) resolve(dir, named string, pattern *regexp.Regexp, notFound error) (string, error) {
	if named != "" {
		p := filepath.Join(dir, named)
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: manifest names %s", notFound, p)
		}
		return p, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", notFound, err)
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() || !pattern.MatchString(e.Name()) {
			continue
		}
		if l.skipPrefix != "" && strings.HasPrefix(e.Name(), l.skipPrefix) {
			continue
		}
		matches = append(matches, e.Name())
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", notFound, dir)
	}
	if len(matches) > 1 {
		log.Printf("WARN: %d files match %s in %s; using %s", len(matches), pattern, dir, matches[0])
	}
	return filepath.Join(dir, matches[0]), nil
}
