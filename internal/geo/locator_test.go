package geo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "S2_2021-03-15_B04.tiff"))
	touch(t, filepath.Join(dir, "fields.csv"), "a,b\n1,2\n")
	touch(t, filepath.Join(dir, "saturated_fields.csv"), "a,b\n")

	l, err := NewLocator(Options{SkipPrefix: "saturated_"})
	require.NoError(t, err)

	tile, err := l.Locate(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "S2_2021-03-15_B04.tiff"), tile.RasterPath)
	assert.Equal(t, filepath.Join(dir, "fields.csv"), tile.TablePath)
	assert.InDelta(t, 52.5, tile.Lat, 1e-9)
	assert.InDelta(t, 13.4, tile.Lon, 1e-9)
	assert.Equal(t, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), tile.Date)
	assert.InDelta(t, 52.5, tile.Point().Lat, 1e-9)
	assert.True(t, strings.HasPrefix(tile.Footprint(), "POLYGON"))
}

func TestLocateManifest(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "a_2020-01-01.tiff"))
	writeTIFF(t, filepath.Join(dir, "b_2021-06-30.tiff"))
	touch(t, filepath.Join(dir, "x.csv"), "a\n")
	touch(t, filepath.Join(dir, "y.csv"), "a\n")
	touch(t, filepath.Join(dir, DefaultManifestName), "raster: b_2021-06-30.tiff\ntable: y.csv\n")

	l, err := NewLocator(Options{})
	require.NoError(t, err)

	tile, err := l.Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b_2021-06-30.tiff"), tile.RasterPath)
	assert.Equal(t, filepath.Join(dir, "y.csv"), tile.TablePath)
	assert.Equal(t, time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC), tile.Date)

	touch(t, filepath.Join(dir, DefaultManifestName), "raster: missing.tiff\n")
	_, err = l.Locate(dir)
	assert.ErrorIs(t, err, ErrRasterNotFound)
}

func TestLocateMultipleMatchesUsesFirst(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "a_2021-03-15.tiff"))
	writeTIFF(t, filepath.Join(dir, "b_2021-03-16.tiff"))
	touch(t, filepath.Join(dir, "t.csv"), "a\n")

	l, err := NewLocator(Options{})
	require.NoError(t, err)

	// os.ReadDir lists entries sorted by name.
	tile, err := l.Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_2021-03-15.tiff"), tile.RasterPath)
}

func TestLocateNotFound(t *testing.T) {
	l, err := NewLocator(Options{})
	require.NoError(t, err)

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "t.csv"), "a\n")
	touch(t, filepath.Join(dir, "raster.tif"), "")

	_, err = l.Locate(dir)
	assert.ErrorIs(t, err, ErrRasterNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	dir = t.TempDir()
	writeTIFF(t, filepath.Join(dir, "r_2021-03-15.tiff"))
	_, err = l.Locate(dir)
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = l.Locate(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocateWithoutDate(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "undated.tiff"))
	touch(t, filepath.Join(dir, "t.csv"), "a\n")

	l, err := NewLocator(Options{})
	require.NoError(t, err)

	_, err = l.Locate(dir)
	assert.ErrorIs(t, err, ErrDateNotFound)
}

func TestLocateIgnoresDatedRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports", "2024-05-01", "07")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeTIFF(t, filepath.Join(dir, "S2_2021-03-15.tiff"))
	touch(t, filepath.Join(dir, "t.csv"), "a\n")

	l, err := NewLocator(Options{})
	require.NoError(t, err)

	tile, err := l.Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), tile.Date)

	undated := filepath.Join(filepath.Dir(dir), "08")
	require.NoError(t, os.MkdirAll(undated, 0o755))
	writeTIFF(t, filepath.Join(undated, "tile.tiff"))
	touch(t, filepath.Join(undated, "t.csv"), "a\n")

	_, err = l.Locate(undated)
	assert.ErrorIs(t, err, ErrDateNotFound)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("/data/07/S2_9999-99-99_2021-03-15.tiff")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("/data/07/tile.tiff")
	assert.ErrorIs(t, err, ErrDateNotFound)
}

func TestNewLocatorInvalidPattern(t *testing.T) {
	_, err := NewLocator(Options{RasterPattern: "("})
	assert.Error(t, err)
}
