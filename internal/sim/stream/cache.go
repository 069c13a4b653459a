package stream

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"blockd.dev/internal/sim/encoding"
	"blockd.dev/internal/sim/world"
)

// Cache holds encoded chunk payloads keyed by chunk and version, shared by every
// streamer so a chunk many players see is encoded once per version.
type Cache struct {
	c *ristretto.Cache[string, string]
}

func NewCache(maxBytes, numCounters int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: numCounters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk cache: %w", err)
	}
	return &Cache{c: c}, nil
}

func cacheKey(k world.ChunkKey, version uint64) string {
	return fmt.Sprintf("%d,%d,%d@%d", k.CX, k.CY, k.CZ, version)
}

// Encoded returns the RLE payload for snap. A nil cache always encodes.
func (c *Cache) Encoded(snap world.ChunkSnapshot) string {
	if c == nil {
		return encoding.EncodeRLE(snap.Blocks)
	}
	key := cacheKey(snap.Key, snap.Version)
	if v, ok := c.c.Get(key); ok {
		return v
	}
	enc := encoding.EncodeRLE(snap.Blocks)
	c.c.Set(key, enc, int64(len(enc)))
	return enc
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	if c != nil {
		c.c.Wait()
	}
}

func (c *Cache) Hits() uint64 {
	if c == nil || c.c.Metrics == nil {
		return 0
	}
	return c.c.Metrics.Hits()
}

func (c *Cache) Close() {
	if c != nil {
		c.c.Close()
	}
}
