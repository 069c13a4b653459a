package world

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"blockd.dev/internal/logging"
	"blockd.dev/internal/sim/catalogs"
)

// MapStore is durable chunk storage. The world owns the store it is given and
// closes it in Close.
type MapStore interface {
	LoadChunk(key ChunkKey) ([]BlockData, bool, error)
	SaveChunk(key ChunkKey, blocks []BlockData) error
	Close() error
}

// World holds the entity table, the loaded chunks, the registered views and the
// block registry. It is accessed only from the tick goroutine.
type World struct {
	cfg    WorldConfig
	log    *zap.Logger
	store  MapStore
	blocks *catalogs.BlockRegistry

	entities *EntityTable
	chunks   map[ChunkKey]*Chunk
	views    []*View

	// Last version of evicted chunks, so a reloaded chunk never reuses a
	// (key, version) pair that encoded caches may still hold.
	evictedVersions map[ChunkKey]uint64

	lastTime float64
	hasTime  bool

	stats Stats
}

// Stats are cumulative counters since the world was built.
type Stats struct {
	ChunksLoaded    uint64
	ChunksGenerated uint64
	ChunksSaved     uint64
	ChunksEvicted   uint64
	StoreErrors     uint64
}

func New(cfg WorldConfig, store MapStore, blocks *catalogs.BlockRegistry, logger *zap.Logger) *World {
	cfg.applyDefaults()
	if blocks == nil {
		blocks = catalogs.Default()
	}
	return &World{
		cfg:      cfg,
		log:      logging.OrNop(logger).Named("world"),
		store:    store,
		blocks:   blocks,
		entities: NewEntityTable(),
		chunks:   map[ChunkKey]*Chunk{},

		evictedVersions: map[ChunkKey]uint64{},
	}
}

func (w *World) Config() WorldConfig             { return w.cfg }
func (w *World) Entities() *EntityTable          { return w.entities }
func (w *World) Blocks() *catalogs.BlockRegistry { return w.blocks }
func (w *World) Stats() Stats                    { return w.stats }
func (w *World) LoadedChunks() int               { return len(w.chunks) }
func (w *World) ViewCount() int                  { return len(w.views) }

// IsRegisteredBlock is the membership test for block edits. Empty always passes.
func (w *World) IsRegisteredBlock(b BlockData) bool {
	return b.IsEmpty() || w.blocks.Has(b.Type())
}

// InBounds reports whether p lies inside the world's vertical extent.
func (w *World) InBounds(p BlockPos) bool {
	return p.Y >= 0 && p.Y < w.cfg.HeightChunks*ChunkSize
}

func (w *World) Block(p BlockPos) BlockData {
	if !w.InBounds(p) {
		return 0
	}
	return w.chunk(ChunkKeyOf(p)).Get(p)
}

func (w *World) RegisterView(v *View) {
	if v == nil || v.registered {
		return
	}
	v.registered = true
	w.views = append(w.views, v)
}

func (w *World) UnregisterView(v *View) {
	if v == nil || !v.registered {
		return
	}
	for i, have := range w.views {
		if have == v {
			w.views = append(w.views[:i], w.views[i+1:]...)
			break
		}
	}
	v.registered = false
}

func (w *World) setBlock(p BlockPos, b BlockData) bool {
	if !w.InBounds(p) {
		return false
	}
	key := ChunkKeyOf(p)
	c := w.chunk(key)
	if !c.Set(p, b) {
		return false
	}
	ch := BlockChange{Key: key, Pos: p, Data: b, Version: c.Version}
	for _, v := range w.views {
		if v.Contains(key) {
			v.notifyChanged(ch)
		}
	}
	return true
}

// Tick advances world-driven entities, ticks view observers and runs periodic saves.
func (w *World) Tick(frame Frame) {
	dt := 0.0
	if w.hasTime {
		dt = frame.Time - w.lastTime
	}
	w.lastTime, w.hasTime = frame.Time, true

	if dt > 0 {
		w.entities.Each(func(e *Entity) {
			if e.UserControlled() || e.State.Velocity == (mgl64.Vec3{}) {
				return
			}
			e.State.Position = e.State.Position.Add(e.State.Velocity.Mul(dt))
			e.MarkDirty()
		})
	}

	for _, v := range w.views {
		v.tick(frame)
	}

	if frame.Tick > 0 && frame.Tick%uint64(w.cfg.SaveEveryTicks) == 0 {
		if err := w.Save(); err != nil {
			w.log.Warn("periodic save failed", zap.Uint64("tick", frame.Tick), zap.Error(err))
		}
		w.evictUnviewed()
	}
}

// Close saves dirty chunks and closes the map store.
func (w *World) Close() error {
	err := w.Save()
	if w.store != nil {
		err = errors.Join(err, w.store.Close())
	}
	return err
}
