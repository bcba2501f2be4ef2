package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

func TestMeteostatFetchDaily(t *testing.T) {
	var key, start string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-rapidapi-key")
		start = r.URL.Query().Get("start")
		w.Write([]byte(`{"meta": {}, "data": [
			{"date": "2021-03-14", "tavg": 4.1, "tmin": 1.0, "prcp": null},
			{"date": "2021-03-15", "tavg": 5.2, "prcp": 0.3}
		]}`))
	}))
	defer srv.Close()

	p := NewMeteostatProvider(srv.Client(), "secret", srv.URL)
	ds, err := p.FetchDaily(context.Background(), weather.Point{Lat: 1, Lon: 2}, day("2021-03-14"), day("2021-03-15"))
	require.NoError(t, err)

	assert.Equal(t, "secret", key)
	assert.Equal(t, "2021-03-14", start)
	assert.Equal(t, "meteostat", ds.Provider)
	assert.Len(t, ds.Dates, 2)

	// Only columns present in at least one row are kept.
	assert.Equal(t, []string{"tavg", "tmin", "prcp"}, ds.FieldNames())

	tmin, _ := ds.Field("tmin")
	assert.Equal(t, []weather.Value{weather.Number(1), weather.Null()}, tmin.Values)
	prcp, _ := ds.Field("prcp")
	assert.Equal(t, []weather.Value{weather.Null(), weather.Number(0.3)}, prcp.Values)
}

func TestMeteostatRequiresAPIKey(t *testing.T) {
	p := NewMeteostatProvider(http.DefaultClient, "", "http://127.0.0.1:0")
	_, err := p.FetchDaily(context.Background(), weather.Point{}, day("2021-03-14"), day("2021-03-15"))
	assert.Error(t, err)
}

func TestMeteostatSingleAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewMeteostatProvider(srv.Client(), "secret", srv.URL)
	_, err := p.FetchDaily(context.Background(), weather.Point{}, day("2021-03-14"), day("2021-03-15"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errServerError)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
