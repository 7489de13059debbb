// Package tiler talks to the external tiling service: zonal statistics over
// a raster, mosaic registration and tile rendering.
package tiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// ErrTilerUnavailable marks transport failures and 5xx responses.
var ErrTilerUnavailable = errors.New("tiler unavailable")

// Service is the narrow surface the pipeline consumes.
type Service interface {
	// ZonalStats returns mean index values of rasterRef inside geometry,
	// keyed by index name (ndvi, ndre, ...).
	ZonalStats(ctx context.Context, rasterRef string, geometry models.Geometry) (map[string]float64, error)
	RegisterMosaic(ctx context.Context, def models.MosaicDefinition) (string, error)
	// FetchTile renders one tile on the given cache node.
	FetchTile(ctx context.Context, node string, aoiID string, t Tile) error
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ Service = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type statsRequest struct {
	Raster   string          `json:"raster"`
	Geometry models.Geometry `json:"geometry"`
}

type statsResponse struct {
	Stats map[string]*float64 `json:"stats"`
}

// ZonalStats drops indices the tiler reports as null.
func (c *Client) ZonalStats(ctx context.Context, rasterRef string, geometry models.Geometry) (map[string]float64, error) {
	var resp statsResponse
	if err := c.postJSON(ctx, c.baseURL+"/stats", statsRequest{Raster: rasterRef, Geometry: geometry}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(resp.Stats))
	for name, v := range resp.Stats {
		if v != nil {
			out[strings.ToLower(name)] = *v
		}
	}
	return out, nil
}

type mosaicResponse struct {
	MosaicID string `json:"mosaic_id"`
}

func (c *Client) RegisterMosaic(ctx context.Context, def models.MosaicDefinition) (string, error) {
	var resp mosaicResponse
	if err := c.postJSON(ctx, c.baseURL+"/mosaics", def, &resp); err != nil {
		return "", err
	}
	if resp.MosaicID == "" {
		return "", fmt.Errorf("tiler returned an empty mosaic id")
	}
	return resp.MosaicID, nil
}

// FetchTile requests a tile and discards the body; the node keeps the
// rendered tile in its own cache.
func (c *Client) FetchTile(ctx context.Context, node string, aoiID string, t Tile) error {
	base := c.baseURL
	if node != "" {
		base = strings.TrimRight(node, "/")
	}
	target := fmt.Sprintf("%s/tiles/%s/%d/%d/%d.png", base, aoiID, t.Z, t.X, t.Y)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating tile request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTilerUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusError(resp.StatusCode, "")
}

func (c *Client) postJSON(ctx context.Context, target string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding tiler request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating tiler request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTilerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError(resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding tiler response: %w", err)
	}
	return nil
}

func statusError(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d %s", ErrTilerUnavailable, status, body)
	default:
		return fmt.Errorf("tiler rejected request: status %d %s", status, body)
	}
}
