package weather

import (
	"time"

	"github.com/goccy/go-json"
)

// DateKey names the date axis when the merged weather is laid out as columns.
const DateKey = "date"

// Origin records which provider contributed a merged metric.
type Origin int

const (
	OriginPrimary Origin = iota + 1
	OriginSecondary
	OriginBoth
)

func (o Origin) String() string {
	switch o {
	case OriginPrimary:
		return "primary"
	case OriginSecondary:
		return "secondary"
	case OriginBoth:
		return "both"
	default:
		return "unknown"
	}
}

// MarshalText encodes the origin by name.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Metric is one merged series. The two halves are kept apart; they are each
// internally date-ordered but not aligned with each other.
type Metric struct {
	Name      string  `json:"name"`
	Origin    Origin  `json:"origin"`
	Primary   []Value `json:"-"`
	Secondary []Value `json:"-"`
}

// Values returns the primary half followed by the secondary half.
func (m Metric) Values() []Value {
	out := make([]Value, 0, len(m.Primary)+len(m.Secondary))
	out = append(out, m.Primary...)
	return append(out, m.Secondary...)
}

// At returns the value at position i of Values, and false past the end.
func (m Metric) At(i int) (Value, bool) {
	switch {
	case i < 0:
		return Value{}, false
	case i < len(m.Primary):
		return m.Primary[i], true
	case i < len(m.Primary)+len(m.Secondary):
		return m.Secondary[i-len(m.Primary)], true
	default:
		return Value{}, false
	}
}

// Len returns the merged sequence length.
func (m Metric) Len() int {
	return len(m.Primary) + len(m.Secondary)
}

// Merged is the union of two provider datasets: an ordered set of metrics
// keyed by name, plus the date axis used for alignment.
type Merged struct {
	Dates []time.Time

	order   []string
	metrics map[string]*Metric
}

// Merge unions secondary into primary. Primary field order comes first, then
// secondary-only fields in secondary order. A name reported by both keeps both
// sequences; its Values are primary then secondary.
func Merge(primary, secondary Dataset) *Merged {
	m := &Merged{metrics: make(map[string]*Metric)}

	m.Dates = append(m.Dates, primary.Dates...)
	if len(m.Dates) == 0 {
		m.Dates = append(m.Dates, secondary.Dates...)
	}

	for _, f := range primary.Fields {
		if existing, ok := m.metrics[f.Name]; ok {
			existing.Primary = append(existing.Primary, f.Values...)
			continue
		}
		m.order = append(m.order, f.Name)
		m.metrics[f.Name] = &Metric{
			Name:    f.Name,
			Origin:  OriginPrimary,
			Primary: append([]Value(nil), f.Values...),
		}
	}

	m.Append(secondary)
	return m
}

// Append adds the secondary dataset's fields. It is not idempotent: calling it
// twice with the same dataset appends the values twice.
func (m *Merged) Append(secondary Dataset) {
	if m.metrics == nil {
		m.metrics = make(map[string]*Metric)
	}
	for _, f := range secondary.Fields {
		existing, ok := m.metrics[f.Name]
		if !ok {
			m.order = append(m.order, f.Name)
			m.metrics[f.Name] = &Metric{
				Name:      f.Name,
				Origin:    OriginSecondary,
				Secondary: append([]Value(nil), f.Values...),
			}
			continue
		}
		if existing.Origin == OriginPrimary {
			existing.Origin = OriginBoth
		}
		existing.Secondary = append(existing.Secondary, f.Values...)
	}
}

// Names returns metric names in merge order, excluding the date axis.
func (m *Merged) Names() []string {
	return append([]string(nil), m.order...)
}

// Metric returns the merged metric by name.
func (m *Merged) Metric(name string) (Metric, bool) {
	mt, ok := m.metrics[name]
	if !ok {
		return Metric{}, false
	}
	return *mt, true
}

// Metrics returns the merged metrics in merge order.
func (m *Merged) Metrics() []Metric {
	out := make([]Metric, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.metrics[name])
	}
	return out
}

// Len returns the length of the date axis.
func (m *Merged) Len() int {
	return len(m.Dates)
}

type mergedJSON struct {
	Dates   []string     `json:"date"`
	Metrics []metricJSON `json:"metrics"`
}

type metricJSON struct {
	Name   string  `json:"name"`
	Origin Origin  `json:"origin"`
	Values []Value `json:"values"`
}

// MarshalJSON encodes the merged weather with metrics in merge order.
func (m *Merged) MarshalJSON() ([]byte, error) {
	out := mergedJSON{
		Dates:   make([]string, 0, len(m.Dates)),
		Metrics: make([]metricJSON, 0, len(m.order)),
	}
	for _, d := range m.Dates {
		out.Dates = append(out.Dates, d.Format(DateLayout))
	}
	for _, mt := range m.Metrics() {
		out.Metrics = append(out.Metrics, metricJSON{Name: mt.Name, Origin: mt.Origin, Values: mt.Values()})
	}
	return json.Marshal(out)
}
