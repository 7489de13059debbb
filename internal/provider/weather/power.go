package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// powerFill marks a missing value in NASA POWER responses.
const powerFill = -999.0

const powerDateLayout = "20060102"

// PowerClient fetches daily point series from the NASA POWER API.
// POWER has no reference evapotranspiration parameter, so ET0 is always nil.
type PowerClient struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewPowerClient(name, baseURL string, timeout time.Duration) *PowerClient {
	return &PowerClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *PowerClient) Name() string { return c.name }

func (c *PowerClient) FetchDaily(ctx context.Context, q models.WeatherQuery) ([]models.WeatherDay, error) {
	params := url.Values{}
	params.Set("parameters", "PRECTOTCORR,T2M,T2M_MIN,T2M_MAX")
	params.Set("community", "AG")
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', 4, 64))
	params.Set("start", q.StartDate.UTC().Format(powerDateLayout))
	params.Set("end", q.EndDate.UTC().Format(powerDateLayout))
	params.Set("format", "JSON")

	var resp powerResponse
	if err := getJSON(ctx, c.client, c.name, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	p := resp.Properties.Parameter
	keys := make([]string, 0, len(p.T2M))
	for k := range p.PRECTOTCORR {
		keys = append(keys, k)
	}
	for k := range p.T2M {
		if _, ok := p.PRECTOTCORR[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	days := make([]models.WeatherDay, 0, len(keys))
	for _, k := range keys {
		date, err := time.Parse(powerDateLayout, k)
		if err != nil {
			return nil, provider.Transient(c.name, fmt.Errorf("%w: bad date %q", provider.ErrBadResponse, k))
		}
		days = append(days, models.WeatherDay{
			Date:            date,
			PrecipitationMM: fill(p.PRECTOTCORR, k),
			TempMinC:        fill(p.T2MMin, k),
			TempMaxC:        fill(p.T2MMax, k),
			TempMeanC:       fill(p.T2M, k),
		})
	}
	return days, nil
}

type powerResponse struct {
	Properties struct {
		Parameter struct {
			PRECTOTCORR map[string]float64 `json:"PRECTOTCORR"`
			T2M         map[string]float64 `json:"T2M"`
			T2MMin      map[string]float64 `json:"T2M_MIN"`
			T2MMax      map[string]float64 `json:"T2M_MAX"`
		} `json:"parameter"`
	} `json:"properties"`
}

func fill(series map[string]float64, key string) *float64 {
	v, ok := series[key]
	if !ok || v <= powerFill {
		return nil
	}
	return &v
}

var _ models.WeatherProvider = (*PowerClient)(nil)
