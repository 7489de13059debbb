// Package weather implements models.WeatherProvider for daily archive APIs.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

const dateLayout = "2006-01-02"

var openMeteoDaily = []string{
	"precipitation_sum",
	"temperature_2m_min",
	"temperature_2m_max",
	"temperature_2m_mean",
	"et0_fao_evapotranspiration",
}

// OpenMeteoClient fetches daily series from the Open-Meteo archive API.
type OpenMeteoClient struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewOpenMeteoClient creates a client for an archive endpoint such as
// https://archive-api.open-meteo.com/v1/archive.
func NewOpenMeteoClient(name, baseURL string, timeout time.Duration) *OpenMeteoClient {
	return &OpenMeteoClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenMeteoClient) Name() string { return c.name }

func (c *OpenMeteoClient) FetchDaily(ctx context.Context, q models.WeatherQuery) ([]models.WeatherDay, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', 6, 64))
	params.Set("start_date", q.StartDate.UTC().Format(dateLayout))
	params.Set("end_date", q.EndDate.UTC().Format(dateLayout))
	params.Set("daily", strings.Join(openMeteoDaily, ","))
	params.Set("timezone", "UTC")

	var resp openMeteoResponse
	if err := getJSON(ctx, c.client, c.name, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	d := resp.Daily
	days := make([]models.WeatherDay, 0, len(d.Time))
	for i, raw := range d.Time {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, provider.Transient(c.name, fmt.Errorf("%w: bad date %q", provider.ErrBadResponse, raw))
		}
		days = append(days, models.WeatherDay{
			Date:            date,
			PrecipitationMM: at(d.Precipitation, i),
			TempMinC:        at(d.TempMin, i),
			TempMaxC:        at(d.TempMax, i),
			TempMeanC:       at(d.TempMean, i),
			ET0MM:           at(d.ET0, i),
		})
	}
	return days, nil
}

type openMeteoResponse struct {
	Daily struct {
		Time          []string   `json:"time"`
		Precipitation []*float64 `json:"precipitation_sum"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMean      []*float64 `json:"temperature_2m_mean"`
		ET0           []*float64 `json:"et0_fao_evapotranspiration"`
	} `json:"daily"`
}

func at(series []*float64, i int) *float64 {
	if i < len(series) {
		return series[i]
	}
	return nil
}

// getJSON performs a GET and decodes a successful JSON response body.
func getJSON(ctx context.Context, hc *http.Client, name, target string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return provider.Permanent(name, fmt.Errorf("building request: %w", err))
	}

	resp, err := hc.Do(req)
	if err != nil {
		return provider.ClassifyTransport(name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return provider.ClassifyStatus(name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return provider.Transient(name, fmt.Errorf("%w: %v", provider.ErrBadResponse, err))
	}
	return nil
}

var _ models.WeatherProvider = (*OpenMeteoClient)(nil)
