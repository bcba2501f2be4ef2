package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

// DefaultOpenMeteoArchiveURL is the Open-Meteo historical archive endpoint.
const DefaultOpenMeteoArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

// OpenMeteoDailyVariables are requested from the archive, in output order.
var OpenMeteoDailyVariables = []string{
	"weather_code",
	"temperature_2m_max",
	"temperature_2m_min",
	"temperature_2m_mean",
	"apparent_temperature_max",
	"apparent_temperature_min",
	"apparent_temperature_mean",
	"sunrise",
	"sunset",
	"daylight_duration",
	"sunshine_duration",
	"precipitation_sum",
	"rain_sum",
	"snowfall_sum",
	"precipitation_hours",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"wind_direction_10m_dominant",
	"shortwave_radiation_sum",
	"et0_fao_evapotranspiration",
}

// openMeteoDropped are fetched but not returned; they are timestamps, not measurements.
var openMeteoDropped = map[string]bool{
	"sunrise": true,
	"sunset":  true,
}

// OpenMeteoProvider implements weather.Provider for the Open-Meteo archive.
// Its HTTP client is expected to carry the on-disk cache transport.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *breaker
}

// NewOpenMeteoProvider retries transient failures five times, starting at 200ms and doubling.
func NewOpenMeteoProvider(client *http.Client, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoArchiveURL
	}

	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      5,
				InitialInterval: 200 * time.Millisecond,
			},
		},
		circuit: newBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// ResetCircuit closes the provider's circuit breaker.
func (p *OpenMeteoProvider) ResetCircuit() {
	p.circuit.reset()
}

func (p *OpenMeteoProvider) FetchDaily(ctx context.Context, pt weather.Point, from, to time.Time) (weather.Dataset, error) {
	ds, err := p.fetchDaily(ctx, pt, from, to)
	if err != nil {
		return weather.Dataset{}, &ProviderError{Provider: p.name, Err: err}
	}
	return ds, nil
}

func (p *OpenMeteoProvider) fetchDaily(ctx context.Context, pt weather.Point, from, to time.Time) (weather.Dataset, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", pt.Lat))
		values.Set("longitude", fmt.Sprintf("%f", pt.Lon))
		values.Set("start_date", from.Format(weather.DateLayout))
		values.Set("end_date", to.Format(weather.DateLayout))
		values.Set("daily", strings.Join(OpenMeteoDailyVariables, ","))
		values.Set("wind_speed_unit", "ms")
		values.Set("timezone", "auto")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit.get(), buildRequest)
	if err != nil {
		return weather.Dataset{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Daily map[string]json.RawMessage `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Dataset{}, fmt.Errorf("decode archive response: %w", err)
	}

	var days []string
	if raw, ok := payload.Daily["time"]; ok {
		if err := json.Unmarshal(raw, &days); err != nil {
			return weather.Dataset{}, fmt.Errorf("decode daily time: %w", err)
		}
	}

	dates, err := dateAxis(days)
	if err != nil {
		return weather.Dataset{}, err
	}

	ds := weather.Dataset{Provider: p.name, Dates: dates}
	for _, name := range OpenMeteoDailyVariables {
		if openMeteoDropped[name] {
			continue
		}
		raw, ok := payload.Daily[name]
		if !ok {
			continue
		}
		var nums []*float64
		if err := json.Unmarshal(raw, &nums); err != nil {
			return weather.Dataset{}, fmt.Errorf("decode daily %s: %w", name, err)
		}
		values := make([]weather.Value, len(nums))
		for i, n := range nums {
			values[i] = weather.ValueOf(n)
		}
		ds.Fields = append(ds.Fields, weather.Field{Name: name, Values: values})
	}

	return ds, nil
}

// dateAxis rebuilds the daily axis as [first day, last day + 1) in one-day steps.
func dateAxis(days []string) ([]time.Time, error) {
	if len(days) == 0 {
		return nil, nil
	}
	start, err := time.Parse(weather.DateLayout, days[0])
	if err != nil {
		return nil, fmt.Errorf("parse first day %q: %w", days[0], err)
	}
	last, err := time.Parse(weather.DateLayout, days[len(days)-1])
	if err != nil {
		return nil, fmt.Errorf("parse last day %q: %w", days[len(days)-1], err)
	}
	return weather.DailyRange(start, last.AddDate(0, 0, 1), 24*time.Hour), nil
}
