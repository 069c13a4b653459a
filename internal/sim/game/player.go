package game

import (
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/movement"
	"blockd.dev/internal/sim/world"
)

// Player links a session user to the state the server keeps for it. Every link is
// optional so a half-built player can always be torn down.
type Player struct {
	ID   world.PlayerID
	User *session.User

	Entity     world.EntityID
	HasEntity  bool
	View       *world.View
	Controller *movement.Controller
}

// Roster is the player registry: an arena keyed by PlayerID plus join order.
type Roster struct {
	next  world.PlayerID
	byID  map[world.PlayerID]*Player
	order []world.PlayerID
}

// NewRoster returns an empty registry. PlayerIDs start at 1.
func NewRoster() *Roster {
	return &Roster{next: 1, byID: map[world.PlayerID]*Player{}}
}

func (r *Roster) Add(u *session.User) *Player {
	p := &Player{ID: r.next, User: u}
	r.next++
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return p
}

func (r *Roster) Get(id world.PlayerID) *Player { return r.byID[id] }

func (r *Roster) Remove(id world.PlayerID) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, have := range r.order {
		if have == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Roster) Len() int { return len(r.byID) }

// Snapshot returns the current players in join order. Callers iterating it while
// handling events should re-check membership with Get.
func (r *Roster) Snapshot() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
