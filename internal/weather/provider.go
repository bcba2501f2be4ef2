package weather

import (
	"context"
	"time"
)

// Provider abstracts a historical daily weather source (e.g. Meteostat, Open-Meteo archive).
type Provider interface {
	Name() string
	// FetchDaily returns daily observations for the closed range [from, to].
	FetchDaily(ctx context.Context, p Point, from, to time.Time) (Dataset, error)
}

// CircuitResetter is implemented by providers that guard requests with a
// circuit breaker.
type CircuitResetter interface {
	ResetCircuit()
}
