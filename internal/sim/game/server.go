// Package game is the authoritative tick loop: it owns the player roster, drives
// movement and world simulation, and decides what each client is sent.
package game

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"blockd.dev/internal/logging"
	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/movement"
	"blockd.dev/internal/sim/stream"
	"blockd.dev/internal/sim/world"
)

// Chat is the channel membership and fan-out the server drives on connect and CHAT.
type Chat interface {
	Join(u *session.User, channel string)
	Leave(u *session.User)
	Say(u *session.User, text string) int
}

// AuditSink receives applied block edits. It must not block the tick.
type AuditSink interface {
	WriteAudit(e AuditEntry) error
}

// AuditEntry records one applied block edit.
type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	T      int64  `json:"t"`
	Actor  string `json:"actor"`
	Name   string `json:"name"`
	WireID uint8  `json:"wire_id"`
	Pos    [3]int `json:"pos"`
	From   uint32 `json:"from"`
	To     uint32 `json:"to"`
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Chat       Chat
	Audit      AuditSink
	ChunkCache *stream.Cache
	Logger     *zap.Logger
}

// Server owns every piece of game state. All methods except Run's admin entry points
// must be called from the tick goroutine.
type Server struct {
	cfg     Config
	log     *zap.Logger
	session session.Session
	world   *world.World
	chat    Chat
	audit   AuditSink
	cache   *stream.Cache

	players *Roster
	frame   world.Frame

	// Run loop.
	nextTick uint64
	admin    chan adminReq
	stop     chan struct{}
	stopOnce sync.Once

	// Published after each tick for other goroutines.
	roster  atomic.Value // RosterSnapshot
	metrics atomic.Value // Metrics

	positionPackets atomic.Uint64
	blockEdits      atomic.Uint64
	rejectedEdits   atomic.Uint64
	auditErrors     atomic.Uint64
}

// New builds a server on top of a session source and a world. Nothing runs until Run or Advance.
func New(cfg Config, sess session.Session, w *world.World, opts Options) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		log:     logging.OrNop(opts.Logger).Named("game"),
		session: sess,
		world:   w,
		chat:    opts.Chat,
		audit:   opts.Audit,
		cache:   opts.ChunkCache,
		players: NewRoster(),
		admin:   make(chan adminReq, 64),
		stop:    make(chan struct{}),
	}
	s.roster.Store(RosterSnapshot{})
	s.metrics.Store(Metrics{})
	return s
}

// Players is the registry of fully or partially connected players.
func (s *Server) Players() *Roster { return s.players }

func (s *Server) World() *world.World { return s.world }
func (s *Server) Config() Config      { return s.cfg }

// PlayerFor resolves a user through its data slot.
func (s *Server) PlayerFor(u *session.User) *Player {
	if u == nil {
		return nil
	}
	id, ok := u.Data().(world.PlayerID)
	if !ok {
		return nil
	}
	p := s.players.Get(id)
	if p == nil || p.User != u {
		return nil
	}
	return p
}

// OnConnect builds the player, its view and its entity, then tells the client it is ready.
func (s *Server) OnConnect(u *session.User) {
	if u == nil || s.PlayerFor(u) != nil {
		return
	}
	p := s.players.Add(u)
	u.SetData(p.ID)

	if s.chat != nil {
		s.chat.Join(u, s.cfg.DefaultChannel)
	}

	spawn := s.cfg.SpawnPos

	v := s.world.NewView(s.cfg.ViewRadius)
	s.world.RegisterView(v)
	p.View = v
	v.AddObserver(stream.New(u, s.session, s.cache, s.cfg.Stream))
	v.Initialize(spawn)

	// Catch-up for the new user only.
	s.world.Entities().Each(func(e *world.Entity) {
		s.session.Send(u, s.entityCreate(e))
	})

	e := s.world.Entities().Create(world.FlagUserControlled)
	e.State.Position = spawn
	e.Owner = p.ID
	p.Entity, p.HasEntity = e.ID, true
	p.Controller = movement.NewController(v, e.ID, s.cfg.Movement)

	s.broadcast(s.entityCreate(e), nil)
	s.session.Send(u, &protocol.ReadyPlayerMsg{Type: protocol.TypeReadyPlayer})

	s.log.Info("player connected",
		zap.String("user", u.ID),
		zap.String("name", u.Name),
		zap.Uint8("wire_id", u.WireID),
		zap.Uint32("entity", uint32(e.ID)),
		zap.Int("players", s.players.Len()),
	)
}

// OnDisconnect tears down whatever part of the player exists. Calling it for an
// unknown or already removed user does nothing.
func (s *Server) OnDisconnect(u *session.User) {
	p := s.PlayerFor(u)
	if p == nil {
		return
	}

	if p.HasEntity {
		if s.world.Entities().Remove(p.Entity) {
			s.broadcast(&protocol.EntityDeleteMsg{Type: protocol.TypeEntityDelete, EntityID: uint32(p.Entity)}, u)
		}
		p.HasEntity = false
		p.Controller = nil
	}
	if p.View != nil {
		s.world.UnregisterView(p.View)
		p.View.Release()
		p.View = nil
	}
	if s.chat != nil {
		s.chat.Leave(u)
	}
	s.players.Remove(p.ID)
	u.SetData(nil)

	s.log.Info("player disconnected",
		zap.String("user", u.ID),
		zap.String("name", u.Name),
		zap.Int("players", s.players.Len()),
	)
}

// QueueCommands hands movement commands to the user's controller, if it has one.
func (s *Server) QueueCommands(u *session.User, cmds []movement.Command) {
	p := s.PlayerFor(u)
	if p == nil || p.Controller == nil {
		return
	}
	p.Controller.Queue(cmds)
}

// broadcast sends pkt to every registered player except skip. The registry, not
// the transport's active set, decides who counts as connected: a user whose connect
// is still waiting in this tick's batch has not had its catch-up yet.
func (s *Server) broadcast(pkt protocol.Packet, skip *session.User) {
	for _, p := range s.players.Snapshot() {
		if p.User == nil || p.User == skip {
			continue
		}
		s.session.Send(p.User, pkt)
	}
}

func (s *Server) entityCreate(e *world.Entity) *protocol.EntityCreateMsg {
	owner := protocol.NoOwner
	if e.Owner != 0 {
		if p := s.players.Get(e.Owner); p != nil && p.User != nil {
			owner = p.User.WireID
		}
	}
	return &protocol.EntityCreateMsg{
		Type:     protocol.TypeEntityCreate,
		EntityID: uint32(e.ID),
		Flags:    uint8(e.Flags),
		Owner:    owner,
		Pos:      e.State.Position,
		Rot:      e.State.Rotation,
		Vel:      e.State.Velocity,
	}
}

func entityState(e *world.Entity) protocol.EntityState {
	return protocol.EntityState{
		EntityID: uint32(e.ID),
		Pos:      e.State.Position,
		Rot:      e.State.Rotation,
		Vel:      e.State.Velocity,
		T:        e.State.Timestamp,
	}
}
