package world

import "sort"

const (
	ChunkSize   = 16
	ChunkVolume = ChunkSize * ChunkSize * ChunkSize
)

type ChunkKey struct {
	CX, CY, CZ int
}

func ChunkKeyOf(p BlockPos) ChunkKey {
	return ChunkKey{CX: floorDiv(p.X, ChunkSize), CY: floorDiv(p.Y, ChunkSize), CZ: floorDiv(p.Z, ChunkSize)}
}

func (k ChunkKey) Origin() BlockPos {
	return BlockPos{X: k.CX * ChunkSize, Y: k.CY * ChunkSize, Z: k.CZ * ChunkSize}
}

func (k ChunkKey) Less(o ChunkKey) bool {
	if k.CY != o.CY {
		return k.CY < o.CY
	}
	if k.CZ != o.CZ {
		return k.CZ < o.CZ
	}
	return k.CX < o.CX
}

func SortChunkKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

type Chunk struct {
	Key    ChunkKey
	Blocks []BlockData // len = ChunkVolume, x fastest, then z, then y

	// Version increases on every changed cell; snapshots and caches key on it.
	Version uint64
	dirty   bool
}

func newChunk(key ChunkKey) *Chunk {
	return &Chunk{Key: key, Blocks: make([]BlockData, ChunkVolume)}
}

// LocalIndex is the cell index of p inside its chunk.
func LocalIndex(p BlockPos) int {
	return mod(p.X, ChunkSize) + mod(p.Z, ChunkSize)*ChunkSize + mod(p.Y, ChunkSize)*ChunkSize*ChunkSize
}

func (c *Chunk) Get(p BlockPos) BlockData {
	return c.Blocks[LocalIndex(p)]
}

// Set writes b at p and reports whether the stored value changed.
func (c *Chunk) Set(p BlockPos, b BlockData) bool {
	i := LocalIndex(p)
	if c.Blocks[i] == b {
		return false
	}
	c.Blocks[i] = b
	c.Version++
	c.dirty = true
	return true
}

func (c *Chunk) Dirty() bool { return c.dirty }

// ChunkSnapshot is a detached copy of a chunk handed to observers.
type ChunkSnapshot struct {
	Key     ChunkKey
	Version uint64
	Blocks  []BlockData
}

func (c *Chunk) Snapshot() ChunkSnapshot {
	blocks := make([]BlockData, len(c.Blocks))
	copy(blocks, c.Blocks)
	return ChunkSnapshot{Key: c.Key, Version: c.Version, Blocks: blocks}
}

func (s ChunkSnapshot) Get(p BlockPos) BlockData { return s.Blocks[LocalIndex(p)] }
