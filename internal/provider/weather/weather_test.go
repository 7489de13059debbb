package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuery() models.WeatherQuery {
	return models.WeatherQuery{
		Latitude:  -22.85,
		Longitude: -47.05,
		StartDate: time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestOpenMeteo_FetchDaily(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2024-05-06", q.Get("start_date"))
		assert.Equal(t, "2024-05-08", q.Get("end_date"))
		assert.Equal(t, "-22.850000", q.Get("latitude"))
		assert.Contains(t, q.Get("daily"), "precipitation_sum")
		assert.Equal(t, "UTC", q.Get("timezone"))

		w.Write([]byte(`{"daily":{
			"time":["2024-05-06","2024-05-07","2024-05-08"],
			"precipitation_sum":[12.4,0,null],
			"temperature_2m_min":[14.1,15.0,16.2],
			"temperature_2m_max":[28.3,31.0,33.5],
			"temperature_2m_mean":[21.0,22.5,24.1],
			"et0_fao_evapotranspiration":[3.2,4.1,4.8]
		}}`))
	}))
	defer ts.Close()

	days, err := NewOpenMeteoClient("open-meteo", ts.URL, 5*time.Second).FetchDaily(context.Background(), sampleQuery())
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), days[0].Date)
	require.NotNil(t, days[0].PrecipitationMM)
	assert.Equal(t, 12.4, *days[0].PrecipitationMM)
	assert.Nil(t, days[2].PrecipitationMM)
	assert.Equal(t, 33.5, *days[2].TempMaxC)
	assert.Equal(t, 4.8, *days[2].ET0MM)
}

func TestOpenMeteo_FutureDateRejectedIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":true,"reason":"Parameter 'end_date' is out of allowed range"}`))
	}))
	defer ts.Close()

	_, err := NewOpenMeteoClient("open-meteo", ts.URL, 5*time.Second).FetchDaily(context.Background(), sampleQuery())
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestOpenMeteo_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewOpenMeteoClient("open-meteo", ts.URL, 5*time.Second).FetchDaily(context.Background(), sampleQuery())
	require.Error(t, err)
	assert.False(t, provider.IsPermanent(err))
}

func TestPower_FetchDaily(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "20240506", q.Get("start"))
		assert.Equal(t, "20240508", q.Get("end"))
		assert.Equal(t, "AG", q.Get("community"))

		w.Write([]byte(`{"properties":{"parameter":{
			"PRECTOTCORR":{"20240506":11.2,"20240507":0.0,"20240508":-999.0},
			"T2M":{"20240506":21.0,"20240507":22.0,"20240508":23.0},
			"T2M_MIN":{"20240506":14.0,"20240507":15.0,"20240508":16.0},
			"T2M_MAX":{"20240506":28.0,"20240507":30.0,"20240508":-999.0}
		}}}`))
	}))
	defer ts.Close()

	days, err := NewPowerClient("nasa-power", ts.URL, 5*time.Second).FetchDaily(context.Background(), sampleQuery())
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), days[0].Date)
	assert.Equal(t, 11.2, *days[0].PrecipitationMM)
	assert.Equal(t, 0.0, *days[1].PrecipitationMM)
	assert.Nil(t, days[2].PrecipitationMM, "fill value is missing")
	assert.Nil(t, days[2].TempMaxC)
	assert.Nil(t, days[0].ET0MM)
}

func TestPower_MalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer ts.Close()

	_, err := NewPowerClient("nasa-power", ts.URL, 5*time.Second).FetchDaily(context.Background(), sampleQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadResponse)
}
