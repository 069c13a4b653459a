package world

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

type recorder struct {
	name    string
	log     *[]string
	loaded  []ChunkKey
	gone    []ChunkKey
	changes []BlockChange
	ticks   int
}

func (r *recorder) ChunkLoaded(s ChunkSnapshot) {
	r.loaded = append(r.loaded, s.Key)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
}
func (r *recorder) ChunkUnloaded(k ChunkKey)    { r.gone = append(r.gone, k) }
func (r *recorder) BlockChanged(ch BlockChange) { r.changes = append(r.changes, ch) }
func (r *recorder) Tick(Frame)                  { r.ticks++ }

type memStore struct {
	chunks map[ChunkKey][]BlockData
	saves  int
	fail   bool
	closed bool
}

func newMemStore() *memStore { return &memStore{chunks: map[ChunkKey][]BlockData{}} }

func (m *memStore) LoadChunk(k ChunkKey) ([]BlockData, bool, error) {
	if m.fail {
		return nil, false, errors.New("boom")
	}
	b, ok := m.chunks[k]
	return b, ok, nil
}

func (m *memStore) SaveChunk(k ChunkKey, b []BlockData) error {
	cp := make([]BlockData, len(b))
	copy(cp, b)
	m.chunks[k] = cp
	m.saves++
	return nil
}

func (m *memStore) Close() error { m.closed = true; return nil }

func newTestWorld(store MapStore) *World {
	stone := MakeBlock(1, 0)
	return New(WorldConfig{
		HeightChunks:   8,
		SaveEveryTicks: 10,
		Terrain:        []TerrainLayer{{Block: stone, Height: 64}},
	}, store, nil, nil)
}

func TestEntityTable_IDsNeverReused(t *testing.T) {
	tab := NewEntityTable()
	a := tab.Create(FlagUserControlled)
	b := tab.Create(0)
	if a.ID != 0 || b.ID != 1 {
		t.Fatalf("ids: %d %d", a.ID, b.ID)
	}
	if !tab.Remove(a.ID) || tab.Remove(a.ID) {
		t.Fatalf("remove should succeed once")
	}
	c := tab.Create(0)
	if c.ID != 2 {
		t.Fatalf("expected id 2 after delete, got %d", c.ID)
	}
	ids := tab.IDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids=%v", ids)
	}
	if !a.UserControlled() || b.UserControlled() {
		t.Fatalf("flags wrong")
	}
	if !c.HasSentLatestState {
		t.Fatalf("new entities start as sent")
	}
}

func TestChunkKeyOf_Negative(t *testing.T) {
	k := ChunkKeyOf(BlockPos{X: -1, Y: 0, Z: 16})
	if k != (ChunkKey{CX: -1, CY: 0, CZ: 1}) {
		t.Fatalf("key=%+v", k)
	}
	if LocalIndex(BlockPos{X: -1, Y: 0, Z: 0}) != 15 {
		t.Fatalf("local index of x=-1 should be 15")
	}
}

func TestWorld_GeneratesFlatTerrain(t *testing.T) {
	w := newTestWorld(nil)
	if got := w.Block(BlockPos{X: 5, Y: 63, Z: -9}); got != MakeBlock(1, 0) {
		t.Fatalf("y=63 should be stone, got %d", got)
	}
	if got := w.Block(BlockPos{X: 5, Y: 64, Z: -9}); got != 0 {
		t.Fatalf("y=64 should be air, got %d", got)
	}
	if w.InBounds(BlockPos{Y: -1}) || w.InBounds(BlockPos{Y: 128}) || !w.InBounds(BlockPos{Y: 127}) {
		t.Fatalf("vertical bounds wrong")
	}
}

func TestView_ObserversRunInOrderOnInitialize(t *testing.T) {
	w := newTestWorld(nil)
	v := w.NewView(1)
	w.RegisterView(v)

	var order []string
	a := &recorder{name: "a", log: &order}
	b := &recorder{name: "b", log: &order}
	v.AddObserver(a)
	v.AddObserver(b)
	v.AddObserver(a)
	if v.Observers() != 2 {
		t.Fatalf("duplicate observer added")
	}

	v.Initialize(mgl64.Vec3{0, 80, 0})
	if len(a.loaded) != 27 || len(b.loaded) != 27 {
		t.Fatalf("loaded a=%d b=%d", len(a.loaded), len(b.loaded))
	}
	if a.loaded[0] != (ChunkKey{CX: 0, CY: 5, CZ: 0}) {
		t.Fatalf("center chunk should come first, got %+v", a.loaded[0])
	}
	if order[0] != "a" || order[1] != "b" {
		t.Fatalf("observer order: %v", order[:2])
	}
}

func TestView_SetBlockNotifiesCoveringViews(t *testing.T) {
	w := newTestWorld(nil)

	near := w.NewView(1)
	w.RegisterView(near)
	nearObs := &recorder{}
	near.AddObserver(nearObs)
	near.Initialize(mgl64.Vec3{0, 80, 0})

	far := w.NewView(1)
	w.RegisterView(far)
	farObs := &recorder{}
	far.AddObserver(farObs)
	far.Initialize(mgl64.Vec3{1000, 80, 0})

	if !near.SetBlock(1, 70, 3, MakeBlock(2, 0)) {
		t.Fatalf("expected change")
	}
	if near.SetBlock(1, 70, 3, MakeBlock(2, 0)) {
		t.Fatalf("same value should not report a change")
	}
	if len(nearObs.changes) != 1 || len(farObs.changes) != 0 {
		t.Fatalf("changes near=%d far=%d", len(nearObs.changes), len(farObs.changes))
	}
	ch := nearObs.changes[0]
	if ch.Pos != (BlockPos{X: 1, Y: 70, Z: 3}) || ch.Version != 1 {
		t.Fatalf("change=%+v", ch)
	}

	// A write from the far view into the near region is still reported to the near view.
	if !far.SetBlock(2, 70, 3, MakeBlock(3, 0)) {
		t.Fatalf("expected change")
	}
	if len(nearObs.changes) != 2 {
		t.Fatalf("near view missed write made through another view")
	}

	w.UnregisterView(near)
	near.Release()
	far.SetBlock(4, 70, 3, MakeBlock(3, 0))
	if len(nearObs.changes) != 2 {
		t.Fatalf("released view still notified")
	}
	if near.SetBlock(0, -5, 0, MakeBlock(3, 0)) {
		t.Fatalf("out of bounds write should not change anything")
	}
}

func TestView_Recenter(t *testing.T) {
	w := newTestWorld(nil)
	v := w.NewView(1)
	w.RegisterView(v)
	r := &recorder{}
	v.AddObserver(r)
	v.Initialize(mgl64.Vec3{0, 80, 0})
	r.loaded = nil

	v.Recenter(mgl64.Vec3{8, 80, 8})
	if len(r.loaded) != 0 || len(r.gone) != 0 {
		t.Fatalf("same chunk should not move the view")
	}
	v.Recenter(mgl64.Vec3{16, 80, 0})
	if len(r.gone) != 9 || len(r.loaded) != 9 {
		t.Fatalf("gone=%d loaded=%d", len(r.gone), len(r.loaded))
	}
	for _, k := range r.gone {
		if k.CX != -1 {
			t.Fatalf("unexpected unload %+v", k)
		}
	}
	if v.VisibleChunks() != 27 {
		t.Fatalf("visible=%d", v.VisibleChunks())
	}
}

func TestWorld_TickSavesEvictsAndMovesWorldEntities(t *testing.T) {
	store := newMemStore()
	w := newTestWorld(store)
	v := w.NewView(0)
	w.RegisterView(v)
	r := &recorder{}
	v.AddObserver(r)
	v.Initialize(mgl64.Vec3{0, 80, 0})
	v.SetBlock(0, 80, 0, MakeBlock(9, 1))

	// Touch a chunk nobody watches.
	w.Block(BlockPos{X: 500, Y: 10, Z: 500})

	e := w.Entities().Create(0)
	e.State.Velocity = mgl64.Vec3{1, 0, 0}

	w.Tick(FrameAt(9, 10))
	w.Tick(FrameAt(10, 10))
	if r.ticks != 2 {
		t.Fatalf("ticker observer ran %d times", r.ticks)
	}
	if e.HasSentLatestState || e.State.Position[0] < 0.099 || e.State.Position[0] > 0.101 {
		t.Fatalf("world entity not advanced: %+v", e)
	}
	if store.saves != 1 {
		t.Fatalf("expected the edited chunk saved once, got %d", store.saves)
	}
	if w.LoadedChunks() != 1 {
		t.Fatalf("unviewed chunk should be evicted, loaded=%d", w.LoadedChunks())
	}

	// Reload from the store in a fresh world.
	w2 := newTestWorld(store)
	if got := w2.Block(BlockPos{X: 0, Y: 80, Z: 0}); got != MakeBlock(9, 1) {
		t.Fatalf("reloaded block=%d", got)
	}
	if w2.Stats().ChunksLoaded != 1 {
		t.Fatalf("stats=%+v", w2.Stats())
	}
	if err := w2.Close(); err != nil || !store.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestWorld_StoreErrorFallsBackToGenerator(t *testing.T) {
	store := newMemStore()
	store.fail = true
	w := newTestWorld(store)
	if got := w.Block(BlockPos{Y: 1}); got != MakeBlock(1, 0) {
		t.Fatalf("expected generated stone, got %d", got)
	}
	if w.Stats().StoreErrors != 1 {
		t.Fatalf("store error not counted")
	}
}

func TestFrame_Millis(t *testing.T) {
	f := FrameAt(3, 20)
	if f.Millis() != 150 {
		t.Fatalf("millis=%d", f.Millis())
	}
	if !f.Clock().Equal(FrameAt(3, 20).Clock()) {
		t.Fatalf("clock not deterministic")
	}
}

func TestWorld_ReloadedChunkKeepsVersion(t *testing.T) {
	store := newMemStore()
	w := newTestWorld(store)
	p := BlockPos{X: 500, Y: 10, Z: 500}
	if !w.setBlock(p, MakeBlock(9, 0)) {
		t.Fatalf("edit not applied")
	}
	key := ChunkKeyOf(p)
	if v := w.chunks[key].Version; v != 1 {
		t.Fatalf("version=%d", v)
	}
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}
	w.evictUnviewed()
	if _, ok := w.chunks[key]; ok {
		t.Fatalf("chunk not evicted")
	}

	if got := w.Block(p); got != MakeBlock(9, 0) {
		t.Fatalf("reloaded block=%d", got)
	}
	if v := w.chunks[key].Version; v != 1 {
		t.Fatalf("reloaded version=%d, want 1", v)
	}
}
