package game

import (
	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/sim/world"
)

// SpawnEntity adds a world-driven entity and announces it to every player.
func (s *Server) SpawnEntity(pos, vel mgl64.Vec3) world.EntityID {
	e := s.world.Entities().Create(0)
	e.State.Position = pos
	e.State.Velocity = vel
	s.broadcast(s.entityCreate(e), nil)
	return e.ID
}

// DespawnEntity removes a world-driven entity. Player entities are only removed on disconnect.
func (s *Server) DespawnEntity(id world.EntityID) bool {
	e := s.world.Entities().Get(id)
	if e == nil || e.UserControlled() {
		return false
	}
	s.world.Entities().Remove(id)
	s.broadcast(&protocol.EntityDeleteMsg{Type: protocol.TypeEntityDelete, EntityID: uint32(id)}, nil)
	return true
}
