package weather

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// DateLayout is the plain calendar-day layout used on the wire and in output tables.
const DateLayout = "2006-01-02"

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// Key returns a canonical string key for the point, used in log lines.
func (p Point) Key() string {
	return fmt.Sprintf("%.4f:%.4f", p.Lat, p.Lon)
}

// Value is a single daily observation. Providers report gaps as null,
// which is carried as an invalid Value rather than NaN.
type Value struct {
	Float float64
	Valid bool
}

// Number returns a valid Value.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Valid: true}
}

// Null returns an invalid Value.
func Null() Value {
	return Value{}
}

// ValueOf converts a decoded nullable number.
func ValueOf(f *float64) Value {
	if f == nil {
		return Null()
	}
	return Number(*f)
}

// String formats the value for tabular output. Null values format as "".
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// MarshalJSON encodes the value as a number or null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
}

// Field is one named daily series as reported by a provider.
type Field struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// Dataset is a provider's normalized response: a date axis plus named series
// in the provider's field order. Series lengths may differ from the date axis.
type Dataset struct {
	Provider string      `json:"provider"`
	Dates    []time.Time `json:"dates"`
	Fields   []Field     `json:"fields"`
}

// Field returns the series with the given name.
func (d Dataset) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the series names in provider order.
func (d Dataset) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}
