package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// View is one player's subscription over the chunks within Radius of a center chunk.
// Lifecycle: NewView, World.RegisterView, AddObserver, Initialize.
type View struct {
	w      *World
	radius int

	center      ChunkKey
	initialized bool
	registered  bool
	visible     map[ChunkKey]struct{}

	observers []Observer
}

func (w *World) NewView(radius int) *View {
	if radius < 0 {
		radius = 0
	}
	return &View{w: w, radius: radius, visible: map[ChunkKey]struct{}{}}
}

func (v *View) World() *World     { return v.w }
func (v *View) Radius() int       { return v.radius }
func (v *View) Center() ChunkKey  { return v.center }
func (v *View) Initialized() bool { return v.initialized }

// AddObserver appends o; observers are notified in the order they were added.
func (v *View) AddObserver(o Observer) {
	for _, have := range v.observers {
		if have == o {
			return
		}
	}
	v.observers = append(v.observers, o)
}

func (v *View) Observers() int { return len(v.observers) }

// Initialize centers the view and reports every chunk in radius to the observers.
func (v *View) Initialize(center mgl64.Vec3) {
	v.center = ChunkKeyOf(BlockPosOf(center))
	v.initialized = true
	for _, k := range v.region(v.center) {
		v.visible[k] = struct{}{}
		snap := v.w.chunk(k).Snapshot()
		for _, o := range v.observers {
			o.ChunkLoaded(snap)
		}
	}
}

// Recenter moves the view. Chunks leaving the region are reported before chunks entering it.
func (v *View) Recenter(pos mgl64.Vec3) {
	if !v.initialized {
		return
	}
	c := ChunkKeyOf(BlockPosOf(pos))
	if c == v.center {
		return
	}
	v.center = c

	next := v.region(c)
	keep := make(map[ChunkKey]struct{}, len(next))
	for _, k := range next {
		keep[k] = struct{}{}
	}
	var gone []ChunkKey
	for k := range v.visible {
		if _, ok := keep[k]; !ok {
			gone = append(gone, k)
		}
	}
	SortChunkKeys(gone)
	for _, k := range gone {
		delete(v.visible, k)
		for _, o := range v.observers {
			o.ChunkUnloaded(k)
		}
	}
	for _, k := range next {
		if _, ok := v.visible[k]; ok {
			continue
		}
		v.visible[k] = struct{}{}
		snap := v.w.chunk(k).Snapshot()
		for _, o := range v.observers {
			o.ChunkLoaded(snap)
		}
	}
}

// Contains reports whether key is inside the view's current region.
func (v *View) Contains(key ChunkKey) bool {
	_, ok := v.visible[key]
	return ok
}

func (v *View) VisibleChunks() int { return len(v.visible) }

func (v *View) Block(x, y, z int) BlockData {
	return v.w.Block(BlockPos{X: x, Y: y, Z: z})
}

// SetBlock writes through the world so every view covering the cell is told.
func (v *View) SetBlock(x, y, z int, b BlockData) bool {
	return v.w.setBlock(BlockPos{X: x, Y: y, Z: z}, b)
}

// Release drops observers and the visible set. The view must already be unregistered.
func (v *View) Release() {
	v.observers = nil
	v.visible = map[ChunkKey]struct{}{}
	v.initialized = false
}

func (v *View) notifyChanged(ch BlockChange) {
	for _, o := range v.observers {
		o.BlockChanged(ch)
	}
}

func (v *View) tick(frame Frame) {
	for _, o := range v.observers {
		if t, ok := o.(Ticker); ok {
			t.Tick(frame)
		}
	}
}

// region lists chunk keys within radius of c, nearest first, clipped to the world's height.
func (v *View) region(c ChunkKey) []ChunkKey {
	r := v.radius
	var keys []ChunkKey
	for cy := c.CY - r; cy <= c.CY+r; cy++ {
		if cy < 0 || cy >= v.w.cfg.HeightChunks {
			continue
		}
		for cz := c.CZ - r; cz <= c.CZ+r; cz++ {
			for cx := c.CX - r; cx <= c.CX+r; cx++ {
				keys = append(keys, ChunkKey{CX: cx, CY: cy, CZ: cz})
			}
		}
	}
	dist := func(k ChunkKey) int {
		dx, dy, dz := k.CX-c.CX, k.CY-c.CY, k.CZ-c.CZ
		return dx*dx + dy*dy + dz*dz
	}
	sort.SliceStable(keys, func(i, j int) bool {
		di, dj := dist(keys[i]), dist(keys[j])
		if di != dj {
			return di < dj
		}
		return keys[i].Less(keys[j])
	})
	return keys
}
