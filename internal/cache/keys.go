package cache

import "fmt"

func SceneKey(fingerprint string) string {
	return fmt.Sprintf("scene:%s", fingerprint)
}

func BreakerKey(provider string) string {
	return fmt.Sprintf("breaker:%s", provider)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// TileWarmKey marks an AOI tile as already warmed on a cache node.
func TileWarmKey(node, aoiID string, z, x, y int) string {
	return fmt.Sprintf("tilewarm:%s:%s:%d/%d/%d", node, aoiID, z, x, y)
}
