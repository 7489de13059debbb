package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

// SearchFingerprint returns a stable hash of the parts of a catalog search
// that change its result: area, date range, collections and cloud ceiling.
func SearchFingerprint(q models.SearchQuery) string {
	var area string
	switch {
	case q.Geometry != nil:
		raw, _ := json.Marshal(q.Geometry)
		area = string(raw)
	case q.BBox != nil:
		area = fmt.Sprintf("bbox:%.6f,%.6f,%.6f,%.6f", q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3])
	default:
		area = "global"
	}

	collections := append([]string(nil), q.Collections...)
	sort.Strings(collections)

	cloud := "none"
	if q.MaxCloudCover != nil {
		cloud = fmt.Sprintf("%.2f", *q.MaxCloudCover)
	}

	return digest("search",
		area,
		q.Start.UTC().Format(time.RFC3339),
		q.End.UTC().Format(time.RFC3339),
		strings.Join(collections, ","),
		cloud,
	)
}

// WeatherFingerprint returns a stable hash of a daily weather request.
func WeatherFingerprint(q models.WeatherQuery) string {
	return digest("weather",
		fmt.Sprintf("%.4f,%.4f", q.Latitude, q.Longitude),
		q.StartDate.UTC().Format("2006-01-02"),
		q.EndDate.UTC().Format("2006-01-02"),
	)
}

func digest(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
