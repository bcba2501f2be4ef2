package table

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

func day(s string) time.Time {
	d, _ := time.Parse(weather.DateLayout, s)
	return d
}

func testWeather() *weather.Merged {
	return weather.Merge(weather.Dataset{
		Dates: []time.Time{day("2021-03-14"), day("2021-03-15")},
		Fields: []weather.Field{
			{Name: "rain_sum", Values: []weather.Value{weather.Number(0.5), weather.Null()}},
		},
	}, weather.Dataset{
		Fields: []weather.Field{
			{Name: "tavg", Values: []weather.Value{weather.Number(4), weather.Number(5.5)}},
		},
	})
}

func mustRead(t *testing.T, s string) *Table {
	t.Helper()
	tbl, err := Read(strings.NewReader(s), ',')
	require.NoError(t, err)
	return tbl
}

func TestAlignPositionalTruncatesRows(t *testing.T) {
	tbl := mustRead(t, "id,ndvi\n1,0.1\n2,0.2\n3,0.3\n")

	stats, err := Align(tbl, testWeather(), AlignOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "ndvi", "date", "rain_sum", "tavg"}, tbl.Header)
	assert.Equal(t, []string{"date", "rain_sum", "tavg"}, stats.AddedColumns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, Row{Text("1"), Text("0.1"), Text("2021-03-14"), Text("0.5"), Text("4")}, tbl.Rows[0])
	assert.Equal(t, Row{Text("2"), Text("0.2"), Text("2021-03-15"), NullCell(), Text("5.5")}, tbl.Rows[1])

	assert.Equal(t, AlignStats{
		InputRows:    3,
		WeatherDays:  2,
		OutputRows:   2,
		AddedColumns: []string{"date", "rain_sum", "tavg"},
	}, stats)
}

func TestAlignPositionalDiscardsExtraDays(t *testing.T) {
	tbl := mustRead(t, "id\n1\n")

	stats, err := Align(tbl, testWeather(), AlignOptions{Mode: ModePositional})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
	assert.Equal(t, 1, stats.DiscardedDays)
}

func TestAlignFillsExistingColumn(t *testing.T) {
	tbl := mustRead(t, "id,tavg\n1,old\n2,old\n")

	stats, err := Align(tbl, testWeather(), AlignOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "tavg", "date", "rain_sum"}, tbl.Header)
	assert.Equal(t, []string{"date", "rain_sum"}, stats.AddedColumns)
	assert.Equal(t, Text("4"), tbl.Rows[0][1])
	assert.Equal(t, Text("5.5"), tbl.Rows[1][1])
}

func TestAlignByDate(t *testing.T) {
	tbl := mustRead(t, "id,observed\n1,2021-03-15\n2,2021-01-01\n3,2021-03-14 10:00:00\n")

	stats, err := Align(tbl, testWeather(), AlignOptions{Mode: ModeDate, DateColumn: "observed"})
	require.NoError(t, err)

	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, Text("1"), tbl.Rows[0][0])
	assert.Equal(t, Text("2021-03-15"), tbl.Rows[0][tbl.Index("date")])
	assert.Equal(t, Text("5.5"), tbl.Rows[0][tbl.Index("tavg")])
	assert.Equal(t, Text("3"), tbl.Rows[1][0])
	assert.Equal(t, Text("4"), tbl.Rows[1][tbl.Index("tavg")])
	assert.Equal(t, 0, stats.DiscardedDays)
	assert.Equal(t, 2, stats.OutputRows)
}

func TestAlignByDateRequiresColumn(t *testing.T) {
	tbl := mustRead(t, "id\n1\n")
	_, err := Align(tbl, testWeather(), AlignOptions{Mode: ModeDate})
	assert.ErrorIs(t, err, ErrDateColumnMissing)
	assert.Equal(t, []string{"id"}, tbl.Header)
	assert.Equal(t, Row{Text("1")}, tbl.Rows[0])
}

func TestAlignUnknownMode(t *testing.T) {
	tbl := mustRead(t, "id\n1\n")
	_, err := Align(tbl, testWeather(), AlignOptions{Mode: "nearest"})
	assert.Error(t, err)
	assert.Equal(t, []string{"id"}, tbl.Header)
	assert.Len(t, tbl.Rows[0], 1)
}
