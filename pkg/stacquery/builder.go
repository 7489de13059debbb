// Package stacquery builds STAC API item-search request bodies.
package stacquery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Builder constructs STAC search bodies.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

// SearchBody is the JSON body of POST /search.
type SearchBody struct {
	Collections []string              `json:"collections"`
	Datetime    string                `json:"datetime"`
	BBox        []float64             `json:"bbox,omitempty"`
	Intersects  *models.Geometry      `json:"intersects,omitempty"`
	Query       map[string]Comparison `json:"query,omitempty"`
	SortBy      []SortField           `json:"sortby,omitempty"`
	Limit       int                   `json:"limit"`
}

// Comparison is a STAC query-extension predicate.
type Comparison struct {
	LTE *float64 `json:"lte,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
}

type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// BuildSearch converts a SearchQuery into a STAC search body. Geometry wins
// over BBox when both are set; neither means an unbounded search.
func (b Builder) BuildSearch(q models.SearchQuery) SearchBody {
	body := SearchBody{
		Collections: b.normalizeCollections(q.Collections),
		Datetime:    b.Interval(q.Start, q.End),
		Limit:       b.limit(q.Limit),
		SortBy:      []SortField{{Field: "properties.datetime", Direction: "asc"}},
	}

	switch {
	case q.Geometry != nil:
		body.Intersects = q.Geometry
	case q.BBox != nil:
		body.BBox = []float64{q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]}
	}

	if q.MaxCloudCover != nil {
		ceiling := *q.MaxCloudCover
		body.Query = map[string]Comparison{"eo:cloud_cover": {LTE: &ceiling}}
	}

	return body
}

// Interval renders a closed RFC3339 datetime interval. A zero bound is open.
func (b Builder) Interval(start, end time.Time) string {
	return fmt.Sprintf("%s/%s", b.bound(start), b.bound(end))
}

func (b Builder) bound(t time.Time) string {
	if t.IsZero() {
		return ".."
	}
	return t.UTC().Format(time.RFC3339)
}

func (b Builder) normalizeCollections(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (b Builder) limit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
