package table

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

// ErrDateColumnMissing is returned by date alignment when the table has no date column.
var ErrDateColumnMissing = errors.New("table has no date column")

// Mode selects how table rows are paired with weather days.
type Mode string

const (
	// ModePositional pairs row i with weather day i. Rows must already be in
	// the weather's chronological order; this is not checked.
	ModePositional Mode = "positional"
	// ModeDate pairs each row with the weather day equal to its date column.
	ModeDate Mode = "date"
)

// AlignOptions configures Align.
type AlignOptions struct {
	Mode       Mode
	DateColumn string
}

// AlignStats describes what Align kept and discarded. Running out of rows or
// out of weather days is not an error; it only shows up here.
type AlignStats struct {
	InputRows     int
	WeatherDays   int
	OutputRows    int
	DiscardedDays int
	AddedColumns  []string
}

var rowDateLayouts = []string{
	weather.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Align extends t in place with the merged weather. The header gains every
// weather key it lacks, in merge order with the date axis first. Rows are
// paired with weather days per opts.Mode; unpaired rows are removed from t.
// A key already in the header fills that existing column.
func Align(t *Table, w *weather.Merged, opts AlignOptions) (AlignStats, error) {
	if opts.Mode == "" {
		opts.Mode = ModePositional
	}

	stats := AlignStats{InputRows: len(t.Rows), WeatherDays: w.Len()}

	// Validate before the header is touched so a rejected table is left as read.
	dateIdx := -1
	switch opts.Mode {
	case ModePositional:
	case ModeDate:
		col := opts.DateColumn
		if col == "" {
			col = weather.DateKey
		}
		if dateIdx = t.Index(col); dateIdx < 0 {
			return stats, fmt.Errorf("%w: %q", ErrDateColumnMissing, col)
		}
	default:
		return stats, fmt.Errorf("unknown align mode %q", opts.Mode)
	}

	keys := append([]string{weather.DateKey}, w.Names()...)
	columns := make([]int, len(keys))
	for k, key := range keys {
		idx := t.Index(key)
		if idx < 0 {
			idx = len(t.Header)
			t.Header = append(t.Header, key)
			stats.AddedColumns = append(stats.AddedColumns, key)
		}
		columns[k] = idx
	}

	fill := func(row Row, day int) Row {
		out := make(Row, len(t.Header))
		copy(out, row)
		for k, key := range keys {
			out[columns[k]] = cellAt(w, key, day)
		}
		return out
	}

	switch opts.Mode {
	case ModePositional:
		n := min(len(t.Rows), w.Len())
		for i := 0; i < n; i++ {
			t.Rows[i] = fill(t.Rows[i], i)
		}
		t.Rows = t.Rows[:n]
		stats.DiscardedDays = w.Len() - n

	case ModeDate:
		days := make(map[string]int, w.Len())
		for i, d := range w.Dates {
			key := d.Format(weather.DateLayout)
			if _, ok := days[key]; !ok {
				days[key] = i
			}
		}

		used := make(map[int]bool)
		kept := t.Rows[:0]
		for _, row := range t.Rows {
			day, ok := days[normalizeDate(row[dateIdx].Text)]
			if !ok {
				continue
			}
			used[day] = true
			kept = append(kept, fill(row, day))
		}
		t.Rows = kept
		stats.DiscardedDays = w.Len() - len(used)
	}

	stats.OutputRows = len(t.Rows)
	return stats, nil
}

func cellAt(w *weather.Merged, key string, day int) Cell {
	if key == weather.DateKey {
		if day < len(w.Dates) {
			return Text(w.Dates[day].Format(weather.DateLayout))
		}
		return NullCell()
	}
	m, ok := w.Metric(key)
	if !ok {
		return NullCell()
	}
	v, ok := m.At(day)
	if !ok || !v.Valid {
		return NullCell()
	}
	return Text(v.String())
}

// normalizeDate reduces a row's date text to YYYY-MM-DD, or "" if unparseable.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range rowDateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format(weather.DateLayout)
		}
	}
	return ""
}
