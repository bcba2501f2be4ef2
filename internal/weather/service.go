package weather

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service fetches one month of daily history from two providers and merges them.
// Providers are queried one after the other, never concurrently.
type Service struct {
	primary   Provider
	secondary Provider
}

// NewService creates a new Service. The primary provider's fields lead the
// merged field order; the secondary's are appended after it.
func NewService(primary, secondary Provider) *Service {
	return &Service{
		primary:   primary,
		secondary: secondary,
	}
}

// ResetCircuits closes the circuit breakers of providers that have one.
func (s *Service) ResetCircuits() {
	for _, p := range []Provider{s.secondary, s.primary} {
		if r, ok := p.(CircuitResetter); ok {
			r.ResetCircuit()
		}
	}
}

// FetchMerged fetches [date - 1 month, date] for the point from both providers
// and merges the results. Any provider error aborts the fetch.
func (s *Service) FetchMerged(ctx context.Context, p Point, date time.Time) (*Merged, error) {
	if s.primary == nil || s.secondary == nil {
		return nil, fmt.Errorf("weather service requires two providers")
	}

	from, to := HistoryWindow(date)
	log.Printf("DEBUG: fetching weather for %s from %s to %s", p.Key(), from.Format(DateLayout), to.Format(DateLayout))

	secondary, err := s.secondary.FetchDaily(ctx, p, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.secondary.Name(), err)
	}

	primary, err := s.primary.FetchDaily(ctx, p, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.primary.Name(), err)
	}

	merged := Merge(primary, secondary)
	log.Printf("DEBUG: merged %d metrics over %d days for %s (%s: %d fields, %s: %d fields)",
		len(merged.Names()), merged.Len(), p.Key(),
		s.primary.Name(), len(primary.Fields), s.secondary.Name(), len(secondary.Fields))
	return merged, nil
}
