package game

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/movement"
	"blockd.dev/internal/sim/world"
)

// Advance runs one simulation step:
//  1. drain the session (connects, disconnects, commands, edits)
//  2. advance each player's movement controller
//  3. advance the world (world-driven entities, view observers, saves)
//  4. collect every entity whose state has not been sent, stamped with frame time
//  5. send each player that needs one a position packet with its ack and the full delta
func (s *Server) Advance(frame world.Frame) {
	start := time.Now()
	s.frame = frame

	for _, ev := range s.session.Poll() {
		s.handleEvent(ev)
	}

	for _, p := range s.players.Snapshot() {
		if s.players.Get(p.ID) == nil || p.Controller == nil {
			continue
		}
		p.Controller.Advance(frame)
	}

	s.world.Tick(frame)

	ms := frame.Millis()
	delta := []protocol.EntityState{}
	s.world.Entities().Each(func(e *world.Entity) {
		if e.HasSentLatestState {
			return
		}
		e.State.Timestamp = ms
		delta = append(delta, entityState(e))
		e.HasSentLatestState = true
	})

	for _, p := range s.players.Snapshot() {
		c := p.Controller
		unacked := c != nil && c.Unacked()
		if len(delta) == 0 && !unacked {
			continue
		}
		ack := protocol.NoAck
		if unacked {
			ack = c.LastSequence()
		}
		s.session.Send(p.User, &protocol.EntityPositionMsg{
			Type:   protocol.TypeEntityPosition,
			Ack:    ack,
			States: delta,
		})
		s.positionPackets.Add(1)
		if c != nil {
			c.MarkSent()
		}
	}

	s.publish(frame, time.Since(start))
}

func (s *Server) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventConnect:
		s.OnConnect(ev.User)
	case session.EventDisconnect:
		s.OnDisconnect(ev.User)
	case session.EventPacket:
		switch p := ev.Packet.(type) {
		case nil:
		case *protocol.MoveMsg:
			s.QueueCommands(ev.User, commandsFrom(p))
		case *protocol.SetBlockMsg:
			s.SetBlock(ev.User, p.X, p.Y, p.Z, world.BlockData(p.Data))
		case *protocol.ChatMsg:
			if s.chat != nil && s.PlayerFor(ev.User) != nil {
				s.chat.Say(ev.User, p.Text)
			}
		default:
			s.log.Debug("ignored packet", zap.String("type", ev.Packet.PacketType()))
		}
	}
}

func commandsFrom(m *protocol.MoveMsg) []movement.Command {
	out := make([]movement.Command, 0, len(m.Commands))
	for _, c := range m.Commands {
		out = append(out, movement.Command{
			Seq:   c.Seq,
			Move:  mgl64.Vec3(c.Move),
			Yaw:   c.Yaw,
			Pitch: c.Pitch,
			Dt:    c.Dt,
		})
	}
	return out
}
