package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

type EntityID uint32

// PlayerID identifies a connected player. Zero means "no player".
type PlayerID uint32

type EntityFlags uint8

const (
	// FlagUserControlled marks entities driven by a player's movement controller.
	FlagUserControlled EntityFlags = 1 << iota
)

type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Vec3 // pitch, yaw, roll (degrees)
	Velocity mgl64.Vec3

	// Timestamp (ms) of the frame this state was last broadcast in.
	Timestamp int64
}

type Entity struct {
	ID    EntityID
	Flags EntityFlags
	State Transform
	Owner PlayerID

	HasSentLatestState bool
}

func (e *Entity) UserControlled() bool { return e.Flags&FlagUserControlled != 0 }

// MarkDirty queues the entity for the next tick's position broadcast.
func (e *Entity) MarkDirty() { e.HasSentLatestState = false }

// EntityTable is the arena of live entities. Ids come from a counter that starts at
// zero when the table is built and is never reset, so ids are not reused.
type EntityTable struct {
	next  EntityID
	byID  map[EntityID]*Entity
	order []EntityID // ascending
}

func NewEntityTable() *EntityTable {
	return &EntityTable{byID: map[EntityID]*Entity{}}
}

// Create allocates the next entity id. The new entity counts as sent: callers announce
// it with a full create packet.
func (t *EntityTable) Create(flags EntityFlags) *Entity {
	e := &Entity{ID: t.next, Flags: flags, HasSentLatestState: true}
	t.next++
	t.byID[e.ID] = e
	t.order = append(t.order, e.ID)
	return e
}

func (t *EntityTable) Get(id EntityID) *Entity { return t.byID[id] }

func (t *EntityTable) Remove(id EntityID) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	i := sort.Search(len(t.order), func(i int) bool { return t.order[i] >= id })
	if i < len(t.order) && t.order[i] == id {
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
	return true
}

func (t *EntityTable) Len() int { return len(t.byID) }

// NextID is the id the next Create will hand out.
func (t *EntityTable) NextID() EntityID { return t.next }

// Each visits live entities in id order. fn must not add or remove entities.
func (t *EntityTable) Each(fn func(e *Entity)) {
	for _, id := range t.order {
		fn(t.byID[id])
	}
}

// IDs returns a copy of the live ids in ascending order.
func (t *EntityTable) IDs() []EntityID {
	out := make([]EntityID, len(t.order))
	copy(out, t.order)
	return out
}
