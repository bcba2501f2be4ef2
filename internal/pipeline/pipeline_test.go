package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/i474232898/tile-weather-enrichment/internal/geo"
	"github.com/i474232898/tile-weather-enrichment/internal/store"
	"github.com/i474232898/tile-weather-enrichment/internal/table"
	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var acquired = time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)

// fakeLocator serves tiles keyed by directory base name.
type fakeLocator struct {
	tiles map[string]geo.Tile
}

func (f *fakeLocator) Locate(dir string) (geo.Tile, error) {
	tile, ok := f.tiles[filepath.Base(dir)]
	if !ok {
		return geo.Tile{}, fmt.Errorf("%w in %s", geo.ErrRasterNotFound, dir)
	}
	return tile, nil
}

type fakeFetcher struct {
	err    error
	points []weather.Point
	resets int
}

func (f *fakeFetcher) ResetCircuits() {
	f.resets++
}

func (f *fakeFetcher) FetchMerged(ctx context.Context, p weather.Point, date time.Time) (*weather.Merged, error) {
	f.points = append(f.points, p)
	if f.err != nil {
		return nil, f.err
	}
	from, to := weather.HistoryWindow(date)
	days := weather.DailyRange(from, to.AddDate(0, 0, 1), 24*time.Hour)

	tavg := make([]weather.Value, len(days))
	for i := range days {
		tavg[i] = weather.Number(float64(i))
	}
	return weather.Merge(weather.Dataset{
		Dates:  days,
		Fields: []weather.Field{{Name: "tavg", Values: tavg}},
	}, weather.Dataset{}), nil
}

// writeTable creates dir/fields.csv with n data rows.
func writeTable(t *testing.T, dir string, n int) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder
	b.WriteString("id,ndvi\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,0.%d\n", i, i)
	}
	path := filepath.Join(dir, "fields.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newTestPipeline(t *testing.T, root string, fetcher Fetcher, reports ReportSink) *Pipeline {
	t.Helper()
	tablePath := writeTable(t, filepath.Join(root, "00"), 30)

	loc := &fakeLocator{tiles: map[string]geo.Tile{
		"00": {
			Dir:        filepath.Join(root, "00"),
			RasterPath: filepath.Join(root, "00", "tile_2021-03-15.tiff"),
			TablePath:  tablePath,
			Lat:        52.5,
			Lon:        13.4,
			Date:       acquired,
		},
	}}

	w, err := table.NewWriter(table.FormatCSV)
	require.NoError(t, err)

	return New(loc, fetcher, w, reports, Options{
		Root:         root,
		First:        0,
		Last:         1,
		OutputPrefix: "saturated_",
	})
}

func TestDirs(t *testing.T) {
	p := New(nil, nil, nil, nil, Options{Root: "data", First: 0, Last: 20})
	dirs := p.Dirs()
	require.Len(t, dirs, 21)
	assert.Equal(t, filepath.Join("data", "00"), dirs[0])
	assert.Equal(t, filepath.Join("data", "20"), dirs[20])
	assert.Equal(t, "07", DirName(7))
}

func TestRunEnrichesAndSkips(t *testing.T) {
	root := t.TempDir()
	fetcher := &fakeFetcher{}
	reports := store.NewMemoryStore(10, 0)
	p := newTestPipeline(t, root, fetcher, reports)

	sum := p.Run(context.Background())

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, []weather.Point{{Lat: 52.5, Lon: 13.4}}, fetcher.points)

	out := filepath.Join(root, "00", "saturated_fields.csv")
	tbl, err := table.ReadFile(out, ',')
	require.NoError(t, err)

	// One month before 2021-03-15 through 2021-03-15 is 29 days, so one row is dropped.
	assert.Equal(t, []string{"id", "ndvi", "date", "tavg"}, tbl.Header)
	require.Len(t, tbl.Rows, 29)
	assert.Equal(t, "2021-02-15", tbl.Rows[0][2].Text)
	assert.Equal(t, "2021-03-15", tbl.Rows[28][2].Text)
	assert.Equal(t, "28", tbl.Rows[28][3].Text)

	// The input is left untouched.
	src, err := table.ReadFile(filepath.Join(root, "00", "fields.csv"), ',')
	require.NoError(t, err)
	assert.Len(t, src.Rows, 30)
	assert.Equal(t, []string{"id", "ndvi"}, src.Header)

	ok, err := reports.GetLatest("00")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, ok.Status)
	assert.Equal(t, out, ok.OutputPath)
	assert.Equal(t, 29, ok.Rows)
	assert.Equal(t, 4, ok.Columns)
	assert.Equal(t, sum.RunID, ok.RunID)
	assert.Equal(t, filepath.Join(root, "00"), ok.Path)

	skipped, err := reports.GetLatest("01")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSkipped, skipped.Status)
	assert.Equal(t, string(StageLocate), skipped.Stage)
}

func TestRunProviderFailureContinues(t *testing.T) {
	root := t.TempDir()
	fetcher := &fakeFetcher{err: errors.New("provider openmeteo: rate limited")}
	p := newTestPipeline(t, root, fetcher, nil)

	sum := p.Run(context.Background())
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)

	require.Len(t, sum.Reports, 2)
	assert.Equal(t, store.StatusFailed, sum.Reports[0].Status)
	assert.Equal(t, string(StageFetch), sum.Reports[0].Stage)

	_, err := os.Stat(filepath.Join(root, "00", "saturated_fields.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessDirStageError(t *testing.T) {
	root := t.TempDir()
	p := newTestPipeline(t, root, &fakeFetcher{}, nil)

	_, err := p.ProcessDir(context.Background(), filepath.Join(root, "01"))
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLocate, se.Stage)
	assert.ErrorIs(t, err, geo.ErrNotFound)
}

func TestRunResetsCircuitsEachRun(t *testing.T) {
	root := t.TempDir()
	fetcher := &fakeFetcher{}
	p := newTestPipeline(t, root, fetcher, nil)

	p.Run(context.Background())
	p.Run(context.Background())
	assert.Equal(t, 2, fetcher.resets)
}

func TestRunCancelled(t *testing.T) {
	root := t.TempDir()
	p := newTestPipeline(t, root, &fakeFetcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := p.Run(ctx)
	assert.Zero(t, sum.Processed)
}
