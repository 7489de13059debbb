package tiler

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/buraksezer/consistent"
)

type member string

func (m member) String() string { return string(m) }

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	sum := sha256.Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}

// Ring assigns tiles to tile-cache nodes so every worker warms a given tile
// on the same node the viewer will later hit.
type Ring struct {
	ring  *consistent.Consistent
	nodes int
}

// NewRing builds a ring over nodes. An empty ring routes to "".
func NewRing(nodes []string) *Ring {
	r := &Ring{nodes: len(nodes)}
	if len(nodes) == 0 {
		return r
	}
	cfg := consistent.Config{
		PartitionCount:    71,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	r.ring = consistent.New(nil, cfg)
	for _, n := range nodes {
		r.ring.Add(member(n))
	}
	return r
}

// Node returns the node owning key.
func (r *Ring) Node(key string) string {
	if r.ring == nil {
		return ""
	}
	m := r.ring.LocateKey([]byte(key))
	if m == nil {
		return ""
	}
	return m.String()
}

func (r *Ring) Size() int { return r.nodes }
