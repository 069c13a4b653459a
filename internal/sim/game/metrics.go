package game

import (
	"time"

	"blockd.dev/internal/sim/world"
)

// Metrics are the counters /metrics exports, published once per tick.
type Metrics struct {
	Tick            uint64
	Players         int
	Entities        int
	NextEntityID    uint32
	LoadedChunks    int
	Views           int
	StepMicros      int64
	PositionPackets uint64
	BlockEdits      uint64
	RejectedEdits   uint64
	AuditErrors     uint64
	StoreErrors     uint64
}

// RosterEntry describes one connected player.
type RosterEntry struct {
	Name     string `json:"name"`
	WireID   uint8  `json:"wire_id"`
	EntityID uint32 `json:"entity_id"`
}

// RosterSnapshot is the read-only view other goroutines (discovery heartbeat, admin
// endpoints) get of the player registry.
type RosterSnapshot struct {
	Tick    uint64        `json:"tick"`
	Players []RosterEntry `json:"players"`
}

// Metrics returns the last published counters. Safe from any goroutine.
func (s *Server) Metrics() Metrics {
	v := s.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	return v.(Metrics)
}

// Roster returns the snapshot published at the end of the last tick. Safe from any goroutine.
func (s *Server) Roster() RosterSnapshot {
	v := s.roster.Load()
	if v == nil {
		return RosterSnapshot{}
	}
	return v.(RosterSnapshot)
}

func (s *Server) publish(frame world.Frame, step time.Duration) {
	players := s.players.Snapshot()
	entries := make([]RosterEntry, 0, len(players))
	for _, p := range players {
		e := RosterEntry{Name: p.User.Name, WireID: p.User.WireID}
		if p.HasEntity {
			e.EntityID = uint32(p.Entity)
		}
		entries = append(entries, e)
	}
	s.roster.Store(RosterSnapshot{Tick: frame.Tick, Players: entries})

	ws := s.world.Stats()
	s.metrics.Store(Metrics{
		Tick:            frame.Tick,
		Players:         len(players),
		Entities:        s.world.Entities().Len(),
		NextEntityID:    uint32(s.world.Entities().NextID()),
		LoadedChunks:    s.world.LoadedChunks(),
		Views:           s.world.ViewCount(),
		StepMicros:      step.Microseconds(),
		PositionPackets: s.positionPackets.Load(),
		BlockEdits:      s.blockEdits.Load(),
		RejectedEdits:   s.rejectedEdits.Load(),
		AuditErrors:     s.auditErrors.Load(),
		StoreErrors:     ws.StoreErrors,
	})
}
