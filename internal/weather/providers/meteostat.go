package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

// DefaultMeteostatURL is the Meteostat point/daily endpoint on RapidAPI.
const DefaultMeteostatURL = "https://meteostat.p.rapidapi.com/point/daily"

// MeteostatFields are the daily columns Meteostat reports, in output order.
var MeteostatFields = []string{
	"tavg", "tmin", "tmax", "prcp", "snow", "wdir", "wspd", "wpgt", "pres", "tsun",
}

// MeteostatProvider implements weather.Provider for Meteostat's interpolated
// point data. It makes a single attempt per fetch and does not cache.
type MeteostatProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *breaker
}

func NewMeteostatProvider(client *http.Client, apiKey, baseURL string) *MeteostatProvider {
	if baseURL == "" {
		baseURL = DefaultMeteostatURL
	}

	return &MeteostatProvider{
		name:    "meteostat",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      0,
				InitialInterval: 500 * time.Millisecond,
			},
		},
		circuit: newBreaker("meteostat"),
	}
}

func (p *MeteostatProvider) Name() string {
	return p.name
}

// ResetCircuit closes the provider's circuit breaker.
func (p *MeteostatProvider) ResetCircuit() {
	p.circuit.reset()
}

func (p *MeteostatProvider) FetchDaily(ctx context.Context, pt weather.Point, from, to time.Time) (weather.Dataset, error) {
	ds, err := p.fetchDaily(ctx, pt, from, to)
	if err != nil {
		return weather.Dataset{}, &ProviderError{Provider: p.name, Err: err}
	}
	return ds, nil
}

func (p *MeteostatProvider) fetchDaily(ctx context.Context, pt weather.Point, from, to time.Time) (weather.Dataset, error) {
	if p.apiKey == "" {
		return weather.Dataset{}, fmt.Errorf("meteostat api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", pt.Lat))
		values.Set("lon", fmt.Sprintf("%f", pt.Lon))
		values.Set("start", from.Format(weather.DateLayout))
		values.Set("end", to.Format(weather.DateLayout))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-rapidapi-key", p.apiKey)
		req.Header.Set("x-rapidapi-host", req.URL.Host)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit.get(), buildRequest)
	if err != nil {
		return weather.Dataset{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Dataset{}, fmt.Errorf("decode meteostat response: %w", err)
	}

	ds := weather.Dataset{Provider: p.name}

	// Rows are keyed by day; a column absent from every row (no nearby
	// station reports it) is left out of the dataset.
	present := make(map[string]bool, len(MeteostatFields))
	columns := make(map[string][]weather.Value, len(MeteostatFields))
	for i, row := range payload.Data {
		var day string
		if err := json.Unmarshal(row["date"], &day); err != nil {
			return weather.Dataset{}, fmt.Errorf("decode row %d date: %w", i, err)
		}
		ts, err := time.Parse(weather.DateLayout, day)
		if err != nil {
			return weather.Dataset{}, fmt.Errorf("parse row %d date %q: %w", i, day, err)
		}
		ds.Dates = append(ds.Dates, ts)

		for _, name := range MeteostatFields {
			raw, ok := row[name]
			if !ok {
				columns[name] = append(columns[name], weather.Null())
				continue
			}
			present[name] = true
			var n *float64
			if err := json.Unmarshal(raw, &n); err != nil {
				return weather.Dataset{}, fmt.Errorf("decode row %d %s: %w", i, name, err)
			}
			columns[name] = append(columns[name], weather.ValueOf(n))
		}
	}

	for _, name := range MeteostatFields {
		if !present[name] {
			continue
		}
		ds.Fields = append(ds.Fields, weather.Field{Name: name, Values: columns[name]})
	}

	return ds, nil
}
