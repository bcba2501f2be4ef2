// Package pipeline drives tile enrichment: for each tile directory it locates
// the raster, fetches and merges weather, aligns it to the table, and writes
// the augmented table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/i474232898/tile-weather-enrichment/internal/geo"
	"github.com/i474232898/tile-weather-enrichment/internal/store"
	"github.com/i474232898/tile-weather-enrichment/internal/table"
	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

// Locator finds a tile's files, corner, and date.
type Locator interface {
	Locate(dir string) (geo.Tile, error)
}

// Fetcher returns merged weather for a point and acquisition date.
type Fetcher interface {
	FetchMerged(ctx context.Context, p weather.Point, date time.Time) (*weather.Merged, error)
}

// circuitResetter is implemented by fetchers whose providers keep circuit
// breaker state between directories.
type circuitResetter interface {
	ResetCircuits()
}

// ReportSink receives one report per processed directory.
type ReportSink interface {
	SaveReport(report store.RunReport)
}

// Stage names a step of the per-directory state machine.
type Stage string

const (
	StageLocate Stage = "locate"
	StageRead   Stage = "read"
	StageFetch  Stage = "fetch"
	StageAlign  Stage = "align"
	StageWrite  Stage = "write"
)

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Dir   string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dir, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options configures directory enumeration and output.
type Options struct {
	Root         string
	First        int
	Last         int
	OutputPrefix string
	Comma        rune
	Align        table.AlignOptions
}

// Result describes a successfully processed directory.
type Result struct {
	Dir        string
	Tile       geo.Tile
	OutputPath string
	Rows       int
	Columns    int
	Stats      table.AlignStats
}

// Summary totals one run over all directories.
type Summary struct {
	RunID     string            `json:"runId"`
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Reports   []store.RunReport `json:"reports"`
}

// Pipeline processes tile directories one at a time.
type Pipeline struct {
	locator Locator
	fetcher Fetcher
	writer  table.Writer
	reports ReportSink
	opts    Options

	// mu serializes runs started by the scheduler and the HTTP trigger.
	mu sync.Mutex
}

// New creates a Pipeline. reports may be nil.
func New(locator Locator, fetcher Fetcher, writer table.Writer, reports ReportSink, opts Options) *Pipeline {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	return &Pipeline{
		locator: locator,
		fetcher: fetcher,
		writer:  writer,
		reports: reports,
		opts:    opts,
	}
}

// DirName formats a directory sequence number as two zero-padded digits.
func DirName(i int) string {
	return fmt.Sprintf("%02d", i)
}

// Dirs returns the directories a run visits, in ascending order.
func (p *Pipeline) Dirs() []string {
	var dirs []string
	for i := p.opts.First; i <= p.opts.Last; i++ {
		dirs = append(dirs, filepath.Join(p.opts.Root, DirName(i)))
	}
	return dirs
}

// Run processes every directory in order. A failing directory is logged,
// reported, and skipped; only context cancellation ends the run early.
func (p *Pipeline) Run(ctx context.Context) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := Summary{RunID: uuid.NewString()}
	if r, ok := p.fetcher.(circuitResetter); ok {
		r.ResetCircuits()
	}
	log.Printf("INFO: run %s started over %d directories", sum.RunID, p.opts.Last-p.opts.First+1)

	for _, dir := range p.Dirs() {
		if ctx.Err() != nil {
			log.Printf("WARN: run %s cancelled before %s: %v", sum.RunID, dir, ctx.Err())
			break
		}

		started := time.Now().UTC()
		res, err := p.ProcessDir(ctx, dir)

		report := store.RunReport{
			ID:         uuid.NewString(),
			RunID:      sum.RunID,
			Dir:        filepath.Base(dir),
			Path:       dir,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
		sum.Processed++

		switch {
		case err == nil:
			report.Status = store.StatusOK
			report.OutputPath = res.OutputPath
			report.Rows = res.Rows
			report.Columns = res.Columns
			report.Footprint = res.Tile.Footprint()
			sum.Succeeded++
			log.Printf("INFO: %s: wrote %s (%d rows, %d columns, %d weather days discarded)",
				dir, res.OutputPath, res.Rows, res.Columns, res.Stats.DiscardedDays)

		case isSkip(err):
			report.Status = store.StatusSkipped
			report.Error = err.Error()
			report.Stage = string(stageOf(err))
			sum.Skipped++
			log.Printf("ERROR: skipping %v", err)

		default:
			report.Status = store.StatusFailed
			report.Error = err.Error()
			report.Stage = string(stageOf(err))
			sum.Failed++
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				log.Printf("WARN: %s: provider circuit open, no request sent", dir)
			}
			log.Printf("ERROR: failed %v", err)
		}

		if p.reports != nil {
			p.reports.SaveReport(report)
		}
		sum.Reports = append(sum.Reports, report)
	}

	log.Printf("INFO: run %s finished: %d ok, %d skipped, %d failed",
		sum.RunID, sum.Succeeded, sum.Skipped, sum.Failed)
	return sum
}

// ProcessDir runs Locate, Read, Fetch, Align, and Write for one directory.
// The input table is never modified on disk.
func (p *Pipeline) ProcessDir(ctx context.Context, dir string) (Result, error) {
	fail := func(stage Stage, err error) (Result, error) {
		return Result{}, &StageError{Dir: dir, Stage: stage, Err: err}
	}

	tile, err := p.locator.Locate(dir)
	if err != nil {
		return fail(StageLocate, err)
	}
	log.Printf("DEBUG: %s: raster %s top-left (%f, %f) dated %s",
		dir, filepath.Base(tile.RasterPath), tile.Lat, tile.Lon, tile.Date.Format(weather.DateLayout))

	tbl, err := table.ReadFile(tile.TablePath, p.opts.Comma)
	if err != nil {
		return fail(StageRead, err)
	}

	merged, err := p.fetcher.FetchMerged(ctx, tile.Point(), tile.Date)
	if err != nil {
		return fail(StageFetch, err)
	}

	stats, err := table.Align(tbl, merged, p.opts.Align)
	if err != nil {
		return fail(StageAlign, err)
	}

	out := table.OutputPath(tile.TablePath, p.opts.OutputPrefix, p.writer.Format())
	if err := p.writer.Write(tbl, out); err != nil {
		return fail(StageWrite, err)
	}

	return Result{
		Dir:        dir,
		Tile:       tile,
		OutputPath: out,
		Rows:       len(tbl.Rows),
		Columns:    tbl.Width(),
		Stats:      stats,
	}, nil
}

// isSkip reports whether err means the directory is not a usable tile, as
// opposed to a tile that failed while being processed.
func isSkip(err error) bool {
	return errors.Is(err, geo.ErrNotFound) || errors.Is(err, geo.ErrDateNotFound)
}

func stageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
