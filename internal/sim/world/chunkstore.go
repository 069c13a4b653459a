package world

import (
	"errors"

	"go.uber.org/zap"
)

// chunk returns the loaded chunk for key, loading it from the store or
// generating it on first access.
func (w *World) chunk(key ChunkKey) *Chunk {
	if c, ok := w.chunks[key]; ok {
		return c
	}
	c := newChunk(key)
	c.Version = w.evictedVersions[key]
	loaded := false
	if w.store != nil {
		blocks, ok, err := w.store.LoadChunk(key)
		switch {
		case err != nil:
			w.stats.StoreErrors++
			w.log.Warn("chunk load failed, regenerating", zap.Any("chunk", key), zap.Error(err))
		case ok && len(blocks) == ChunkVolume:
			copy(c.Blocks, blocks)
			loaded = true
		case ok:
			w.stats.StoreErrors++
			w.log.Warn("chunk has wrong size, regenerating", zap.Any("chunk", key), zap.Int("cells", len(blocks)))
		}
	}
	if loaded {
		w.stats.ChunksLoaded++
	} else {
		w.generateChunk(c)
		w.stats.ChunksGenerated++
	}
	w.chunks[key] = c
	return c
}

func (w *World) generateChunk(c *Chunk) {
	base := c.Key.Origin()
	for ly := 0; ly < ChunkSize; ly++ {
		b := w.terrainAt(base.Y + ly)
		if b.IsEmpty() {
			continue
		}
		row := c.Blocks[ly*ChunkSize*ChunkSize : (ly+1)*ChunkSize*ChunkSize]
		for i := range row {
			row[i] = b
		}
	}
}

func (w *World) terrainAt(y int) BlockData {
	if y < 0 {
		return 0
	}
	top := 0
	for _, l := range w.cfg.Terrain {
		top += l.Height
		if y < top {
			return l.Block
		}
	}
	return 0
}

// Save writes every dirty chunk to the map store.
func (w *World) Save() error {
	if w.store == nil {
		return nil
	}
	keys := make([]ChunkKey, 0, len(w.chunks))
	for k, c := range w.chunks {
		if c.dirty {
			keys = append(keys, k)
		}
	}
	SortChunkKeys(keys)

	var errs []error
	for _, k := range keys {
		c := w.chunks[k]
		if err := w.store.SaveChunk(k, c.Blocks); err != nil {
			w.stats.StoreErrors++
			errs = append(errs, err)
			continue
		}
		c.dirty = false
		w.stats.ChunksSaved++
	}
	return errors.Join(errs...)
}

// evictUnviewed drops clean chunks no registered view covers.
func (w *World) evictUnviewed() {
	for k, c := range w.chunks {
		if c.dirty {
			continue
		}
		viewed := false
		for _, v := range w.views {
			if v.Contains(k) {
				viewed = true
				break
			}
		}
		if !viewed {
			w.evictedVersions[k] = c.Version
			delete(w.chunks, k)
			w.stats.ChunksEvicted++
		}
	}
}
