package game

import (
	"go.uber.org/zap"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/world"
)

// SetBlock validates and applies one block edit for u. It returns false when the
// request is rejected; a no-op edit is accepted without a broadcast.
func (s *Server) SetBlock(u *session.User, x, y, z int, data world.BlockData) bool {
	p := s.PlayerFor(u)
	if p == nil || p.View == nil {
		s.rejectedEdits.Add(1)
		return false
	}
	if !s.world.IsRegisteredBlock(data) {
		s.rejectedEdits.Add(1)
		s.log.Debug("rejected block edit: unknown block type",
			zap.String("user", u.ID),
			zap.Uint16("type", data.Type()),
			zap.Int("x", x), zap.Int("y", y), zap.Int("z", z),
		)
		return false
	}
	pos := world.BlockPos{X: x, Y: y, Z: z}
	if !s.world.InBounds(pos) {
		s.rejectedEdits.Add(1)
		s.log.Debug("rejected block edit: out of bounds", zap.String("user", u.ID), zap.Int("y", y))
		return false
	}

	prev := p.View.Block(x, y, z)
	if !p.View.SetBlock(x, y, z, data) {
		return true
	}
	s.blockEdits.Add(1)
	s.broadcast(&protocol.SetBlockMsg{Type: protocol.TypeSetBlock, X: x, Y: y, Z: z, Data: uint32(data)}, nil)

	if s.audit != nil {
		err := s.audit.WriteAudit(AuditEntry{
			Tick:   s.frame.Tick,
			T:      s.frame.Millis(),
			Actor:  u.ID,
			Name:   u.Name,
			WireID: u.WireID,
			Pos:    [3]int{x, y, z},
			From:   uint32(prev),
			To:     uint32(data),
		})
		if err != nil && s.auditErrors.Add(1) == 1 {
			s.log.Warn("audit write failed", zap.Error(err))
		}
	}
	return true
}
