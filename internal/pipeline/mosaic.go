package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

const mosaicSceneLimit = 500

// MosaicObjectKey is where the definition of a weekly mosaic is stored.
func MosaicObjectKey(def models.MosaicDefinition) string {
	return fmt.Sprintf("mosaics/%s/%s/%d-W%02d.json", def.TenantID, def.Collection, def.Year, def.Week)
}

// CreateMosaic assembles the week's scenes into a mosaic definition, stores
// it and registers it with the tiler. An unchanged scene set keeps the
// previously registered mosaic id.
func (p *Pipeline) CreateMosaic(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	collection, ok := req.String("collection")
	if !ok {
		collection = p.settings.OpticalCollection
	}

	q := models.SearchQuery{
		Start:         req.Week.Start(),
		End:           req.Week.End(),
		Collections:   []string{collection},
		MaxCloudCover: models.Float(p.Rules.MaxCloudCover),
		Limit:         mosaicSceneLimit,
	}
	res := p.Optical.Fetch(ctx, q)
	if res.IsEmpty() || len(res.Data) == 0 {
		return jobs.Skip(fmt.Sprintf("no scenes for %s mosaic %s", collection, req.Week)), nil
	}

	def := mosaicDefinition(req, collection, res.Data)
	def.CreatedAt = p.now().UTC()
	key := MosaicObjectKey(def)

	body, err := json.Marshal(def)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("encoding mosaic: %w", err)
	}
	if err := p.Objects.Put(ctx, key, body, "application/json"); err != nil {
		return jobs.Outcome{}, fmt.Errorf("storing mosaic %s: %w", key, err)
	}

	existing, err := notFoundAsNil(p.Store.GetMosaic(ctx, req.TenantID, collection, req.Week))
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("loading mosaic record: %w", err)
	}
	mosaicID, reused := "", false
	if existing != nil && existing.ItemCount == len(def.Items) && existing.MosaicID != "" {
		mosaicID, reused = existing.MosaicID, true
	} else {
		mosaicID, err = p.Tiler.RegisterMosaic(ctx, def)
		if err != nil {
			return jobs.Outcome{}, fmt.Errorf("registering mosaic: %w", err)
		}
	}

	rec := &models.MosaicRecord{
		TenantID:   req.TenantID,
		Collection: collection,
		Year:       req.Week.Year,
		Week:       req.Week.Week,
		MosaicID:   mosaicID,
		ObjectKey:  key,
		ItemCount:  len(def.Items),
	}
	if err := p.Store.UpsertMosaic(ctx, rec); err != nil {
		return jobs.Outcome{}, fmt.Errorf("upserting mosaic record: %w", err)
	}

	return jobs.Done(map[string]any{
		"mosaic_id":  mosaicID,
		"object_key": key,
		"items":      len(def.Items),
		"reused":     reused,
		"source":     res.Source,
	}), nil
}

func mosaicDefinition(req jobs.Request, collection string, items []models.Item) models.MosaicDefinition {
	sorted := make([]models.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	def := models.MosaicDefinition{
		TenantID:   req.TenantID,
		Collection: collection,
		Year:       req.Week.Year,
		Week:       req.Week.Week,
		Items:      make([]string, 0, len(sorted)),
		Assets:     make([]string, 0, len(sorted)),
		Bounds:     unionBounds(sorted),
	}
	for _, it := range sorted {
		def.Items = append(def.Items, it.ID)
		if href := visualHref(it); href != "" {
			def.Assets = append(def.Assets, href)
		}
	}
	return def
}

// visualHref prefers the "visual" asset and otherwise the first by name.
func visualHref(it models.Item) string {
	if a, ok := it.Assets["visual"]; ok {
		return a.Href
	}
	names := make([]string, 0, len(it.Assets))
	for name := range it.Assets {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return it.Assets[names[0]].Href
}

func unionBounds(items []models.Item) *models.BBox {
	var out *models.BBox
	for _, it := range items {
		if it.BBox == nil {
			continue
		}
		if out == nil {
			b := *it.BBox
			out = &b
			continue
		}
		out[0] = math.Min(out[0], it.BBox[0])
		out[1] = math.Min(out[1], it.BBox[1])
		out[2] = math.Max(out[2], it.BBox[2])
		out[3] = math.Max(out[3], it.BBox[3])
	}
	return out
}
