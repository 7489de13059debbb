package models

import (
	"time"

	"github.com/google/uuid"
)

// MosaicDefinition is the tenant-wide virtual composite of the scenes found
// for one collection and week.
type MosaicDefinition struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	Collection string    `json:"collection"`
	Year       int       `json:"year"`
	Week       int       `json:"week"`
	Bounds     *BBox     `json:"bounds,omitempty"`
	Items      []string  `json:"items"`
	Assets     []string  `json:"assets"`
	CreatedAt  time.Time `json:"created_at"`
}

// MosaicRecord is a registered mosaic. Natural key: (tenant_id, collection, year, week).
type MosaicRecord struct {
	TenantID   uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	Collection string    `db:"collection"  json:"collection"`
	Year       int       `db:"year"        json:"year"`
	Week       int       `db:"week"        json:"week"`
	MosaicID   string    `db:"mosaic_id"   json:"mosaic_id"`
	ObjectKey  string    `db:"object_key"  json:"object_key"`
	ItemCount  int       `db:"item_count"  json:"item_count"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
