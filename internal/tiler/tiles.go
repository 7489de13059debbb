package tiler

import (
	"fmt"
	"math"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// Tile is a web-mercator XYZ tile.
type Tile struct {
	Z int
	X int
	Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

const maxMercatorLat = 85.05112878

// TileAt returns the tile containing lon/lat at zoom z.
func TileAt(lon, lat float64, z int) Tile {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	n := math.Exp2(float64(z))
	x := int(math.Floor((lon + 180) / 360 * n))
	rad := lat * math.Pi / 180
	y := int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n))
	limit := int(n) - 1
	return Tile{Z: z, X: clamp(x, 0, limit), Y: clamp(y, 0, limit)}
}

// Cover lists the tiles intersecting bbox for zooms minZ..maxZ, stopping once
// max tiles were collected.
func Cover(bbox models.BBox, minZ, maxZ, max int) []Tile {
	var out []Tile
	for z := minZ; z <= maxZ; z++ {
		nw := TileAt(bbox[0], bbox[3], z)
		se := TileAt(bbox[2], bbox[1], z)
		for x := nw.X; x <= se.X; x++ {
			for y := nw.Y; y <= se.Y; y++ {
				if len(out) >= max {
					return out
				}
				out = append(out, Tile{Z: z, X: x, Y: y})
			}
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
