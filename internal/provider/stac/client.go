// Package stac implements models.CatalogProvider against STAC API item search.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/stacquery"
)

const defaultMaxPages = 5

// Client searches one STAC API endpoint.
type Client struct {
	name     string
	baseURL  string
	maxPages int
	client   *http.Client
	builder  stacquery.Builder
}

// Option configures optional Client settings.
type Option func(*Client)

// WithMaxPages caps how many next-links are followed per search.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a STAC client. name identifies the endpoint in breaker
// state and logs, e.g. "optical-primary".
func NewClient(name, baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxPages: defaultMaxPages,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Search posts the query to /search and follows next links until the page
// cap or the query limit is reached. It never retries.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) ([]models.Item, error) {
	body := c.builder.BuildSearch(q)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.Permanent(c.name, fmt.Errorf("encoding search body: %w", err))
	}

	method, target := http.MethodPost, c.baseURL+"/search"
	items := []models.Item{}

	for page := 0; page < c.maxPages; page++ {
		resp, err := c.do(ctx, method, target, payload)
		if err != nil {
			return nil, err
		}

		for _, f := range resp.Features {
			items = append(items, f.toItem())
		}
		if q.Limit > 0 && len(items) >= q.Limit {
			return items[:q.Limit], nil
		}

		next := resp.next()
		if next == nil {
			break
		}
		method, target = next.method(), next.Href
		payload = nil
		if method == http.MethodPost {
			payload, err = next.mergeBody(body)
			if err != nil {
				return nil, provider.Permanent(c.name, fmt.Errorf("encoding next page body: %w", err))
			}
		}
	}

	return items, nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) (*searchResponse, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, provider.Permanent(c.name, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/geo+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, provider.ClassifyTransport(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, provider.ClassifyStatus(c.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, provider.Transient(c.name, fmt.Errorf("%w: %v", provider.ErrBadResponse, err))
	}
	return &out, nil
}

// --- STAC response types ---

type searchResponse struct {
	Features []feature `json:"features"`
	Links    []link    `json:"links"`
}

type feature struct {
	ID         string                  `json:"id"`
	Collection string                  `json:"collection"`
	BBox       []float64               `json:"bbox"`
	Properties map[string]any          `json:"properties"`
	Assets     map[string]models.Asset `json:"assets"`
}

type link struct {
	Rel    string         `json:"rel"`
	Href   string         `json:"href"`
	Method string         `json:"method"`
	Body   map[string]any `json:"body"`
	Merge  bool           `json:"merge"`
}

func (r *searchResponse) next() *link {
	for i := range r.Links {
		if r.Links[i].Rel == "next" && r.Links[i].Href != "" {
			return &r.Links[i]
		}
	}
	return nil
}

func (l *link) method() string {
	if strings.EqualFold(l.Method, http.MethodPost) {
		return http.MethodPost
	}
	return http.MethodGet
}

// mergeBody returns the next-page POST body. With merge set the link body
// is overlaid on the original search body.
func (l *link) mergeBody(original stacquery.SearchBody) ([]byte, error) {
	if l.Body == nil {
		return json.Marshal(original)
	}
	if !l.Merge {
		return json.Marshal(l.Body)
	}
	raw, err := json.Marshal(original)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range l.Body {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (f feature) toItem() models.Item {
	item := models.Item{
		ID:         f.ID,
		Collection: f.Collection,
		Assets:     f.Assets,
		Properties: f.Properties,
	}
	if item.Assets == nil {
		item.Assets = map[string]models.Asset{}
	}
	if len(f.BBox) == 4 {
		item.BBox = &models.BBox{f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]}
	}
	if dt, ok := f.Properties["datetime"].(string); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			item.Datetime = t.UTC()
		}
	}
	if cc, ok := f.Properties["eo:cloud_cover"].(float64); ok {
		item.CloudCover = &cc
	}
	return item
}

// Compile-time check that Client implements CatalogProvider.
var _ models.CatalogProvider = (*Client)(nil)
