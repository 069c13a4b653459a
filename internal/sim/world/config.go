package world

import (
	"fmt"

	"blockd.dev/internal/sim/catalogs"
	"blockd.dev/internal/sim/tuning"
)

type WorldConfig struct {
	HeightChunks   int
	SaveEveryTicks int

	// Flat terrain used for chunks the map store does not know about, bottom-up.
	Terrain []TerrainLayer
}

type TerrainLayer struct {
	Block  BlockData
	Height int
}

func (c *WorldConfig) applyDefaults() {
	if c.HeightChunks <= 0 {
		c.HeightChunks = 8
	}
	if c.SaveEveryTicks <= 0 {
		c.SaveEveryTicks = 600
	}
}

// ConfigFromTuning resolves the tuning's terrain layer names against the block registry.
func ConfigFromTuning(t tuning.Tuning, blocks *catalogs.BlockRegistry) (WorldConfig, error) {
	cfg := WorldConfig{
		HeightChunks:   t.HeightChunks,
		SaveEveryTicks: t.SaveEveryTicks,
	}
	for i, l := range t.Terrain.Layers {
		typ, ok := blocks.TypeOf(l.Block)
		if !ok {
			return cfg, fmt.Errorf("terrain.layers[%d]: unknown block %q", i, l.Block)
		}
		cfg.Terrain = append(cfg.Terrain, TerrainLayer{Block: MakeBlock(typ, 0), Height: l.Height})
	}
	return cfg, nil
}
