package game

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/world"
)

func indexOf(ps []protocol.Packet, match func(protocol.Packet) bool) int {
	for i, p := range ps {
		if match(p) {
			return i
		}
	}
	return -1
}

func isCreate(id uint32) func(protocol.Packet) bool {
	return func(p protocol.Packet) bool {
		c, ok := p.(*protocol.EntityCreateMsg)
		return ok && c.EntityID == id
	}
}

func isReady(p protocol.Packet) bool { return p.PacketType() == protocol.TypeReadyPlayer }

func TestConnect_TwoPlayersScenario(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")

	pa := h.srv.PlayerFor(a)
	if pa == nil || !pa.HasEntity || pa.Entity != 0 {
		t.Fatalf("player a: %+v", pa)
	}
	ea := h.srv.World().Entities().Get(0)
	if !ea.UserControlled() || ea.Owner != pa.ID || ea.State.Position != (mgl64.Vec3{0, 80, 0}) {
		t.Fatalf("entity 0: %+v", ea)
	}
	aPackets := h.sess.to(a, "")
	if indexOf(aPackets, isReady) < 0 {
		t.Fatalf("a never got READY_PLAYER")
	}
	create0 := aPackets[indexOf(aPackets, isCreate(0))].(*protocol.EntityCreateMsg)
	if create0.Owner != a.WireID || create0.Flags != uint8(world.FlagUserControlled) {
		t.Fatalf("create 0: %+v", create0)
	}

	b := h.connect("b")
	if h.srv.Players().Len() != 2 {
		t.Fatalf("roster=%d", h.srv.Players().Len())
	}
	pb := h.srv.PlayerFor(b)
	if pb.Entity != 1 {
		t.Fatalf("b entity=%d", pb.Entity)
	}

	bPackets := h.sess.to(b, "")
	catchUp := indexOf(bPackets, isCreate(0))
	ready := indexOf(bPackets, isReady)
	if catchUp < 0 || ready < 0 || catchUp > ready {
		t.Fatalf("b: catch-up at %d, ready at %d", catchUp, ready)
	}
	if indexOf(bPackets, isCreate(1)) < 0 || indexOf(h.sess.to(a, ""), isCreate(1)) < 0 {
		t.Fatalf("create for entity 1 not broadcast to both players")
	}
	if n := len(h.sess.to(a, protocol.TypeReadyPlayer)); n != 1 {
		t.Fatalf("a got %d READY_PLAYER", n)
	}

	owned := 0
	h.srv.World().Entities().Each(func(e *world.Entity) {
		if e.UserControlled() && e.Owner == pb.ID {
			owned++
		}
	})
	if owned != 1 {
		t.Fatalf("b owns %d entities", owned)
	}
}

func TestConnect_SameTickConnectsGetOneCreateEach(t *testing.T) {
	h := newHarness(t)
	a := h.sess.newUser("a")
	b := h.sess.newUser("b")
	h.sess.push(session.EventConnect, a, nil)
	h.sess.push(session.EventConnect, b, nil)
	h.step()

	bPackets := h.sess.to(b, "")
	creates0 := 0
	for _, p := range bPackets {
		if isCreate(0)(p) {
			creates0++
		}
	}
	if creates0 != 1 {
		t.Fatalf("b got %d creates for entity 0", creates0)
	}
	if c, r := indexOf(bPackets, isCreate(0)), indexOf(bPackets, isReady); r < 0 || c > r {
		t.Fatalf("b: create 0 at %d, ready at %d", c, r)
	}
	if n := len(h.sess.to(a, protocol.TypeEntityCreate)); n != 2 {
		t.Fatalf("a creates=%d", n)
	}
	if n := len(h.sess.to(b, protocol.TypeEntityCreate)); n != 2 {
		t.Fatalf("b creates=%d", n)
	}
}

func TestConnect_CatchUpMarksUnownedEntities(t *testing.T) {
	h := newHarness(t)
	h.srv.SpawnEntity(mgl64.Vec3{3, 70, 3}, mgl64.Vec3{})
	a := h.connect("a")

	ps := h.sess.to(a, protocol.TypeEntityCreate)
	if len(ps) != 2 {
		t.Fatalf("creates=%d", len(ps))
	}
	if c := ps[0].(*protocol.EntityCreateMsg); c.EntityID != 0 || c.Owner != protocol.NoOwner {
		t.Fatalf("catch-up for world entity: %+v", c)
	}
}

func TestDisconnect_DeletesOnceAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	b := h.connect("b")
	views := h.srv.World().ViewCount()

	h.sess.push(session.EventDisconnect, b, nil)
	h.step()

	if h.srv.World().Entities().Get(1) != nil {
		t.Fatalf("entity 1 still present")
	}
	if h.srv.PlayerFor(b) != nil || h.srv.Players().Len() != 1 {
		t.Fatalf("b still registered")
	}
	if h.srv.World().ViewCount() != views-1 {
		t.Fatalf("view not unregistered")
	}
	if h.sess.count(protocol.TypeEntityDelete) != 1 {
		t.Fatalf("deletes=%d", h.sess.count(protocol.TypeEntityDelete))
	}
	del := h.sess.to(a, protocol.TypeEntityDelete)
	if len(del) != 1 || del[0].(*protocol.EntityDeleteMsg).EntityID != 1 {
		t.Fatalf("a deletes=%v", del)
	}

	h.srv.OnDisconnect(b)
	h.srv.OnDisconnect(&session.User{ID: "never-connected"})
	if h.sess.count(protocol.TypeEntityDelete) != 1 || h.srv.Players().Len() != 1 {
		t.Fatalf("second disconnect was not a no-op")
	}

	c := h.connect("c")
	if h.srv.PlayerFor(c).Entity != 2 {
		t.Fatalf("entity ids must not be reused")
	}
}

func TestDisconnect_PartialPlayer(t *testing.T) {
	h := newHarness(t)
	u := h.sess.newUser("half")
	p := h.srv.players.Add(u)
	u.SetData(p.ID)

	h.srv.OnDisconnect(u)
	if h.srv.Players().Len() != 0 || h.sess.count(protocol.TypeEntityDelete) != 0 {
		t.Fatalf("half-built player not cleaned up")
	}
}

func TestAdvance_AckSequenceScenario(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	h.step()
	if n := len(h.sess.to(a, protocol.TypeEntityPosition)); n != 0 {
		t.Fatalf("idle ticks sent %d position packets", n)
	}

	h.sess.push(session.EventPacket, a, &protocol.MoveMsg{Type: protocol.TypeMove, Commands: []protocol.MoveCommand{
		{Seq: 5, Move: [3]float64{1, 0, 0}, Dt: 0.05},
		{Seq: 6, Move: [3]float64{1, 0, 0}, Dt: 0.05},
		{Seq: 7, Move: [3]float64{1, 0, 0}, Dt: 0.05},
	}})
	h.step()

	ctrl := h.srv.PlayerFor(a).Controller
	if ctrl.LastSequence() != 7 || ctrl.LastSequenceSent() != 7 {
		t.Fatalf("seq=%d sent=%d", ctrl.LastSequence(), ctrl.LastSequenceSent())
	}
	pos := h.sess.to(a, protocol.TypeEntityPosition)
	if len(pos) != 1 {
		t.Fatalf("position packets=%d", len(pos))
	}
	msg := pos[0].(*protocol.EntityPositionMsg)
	if msg.Ack != 7 || len(msg.States) != 1 || msg.States[0].EntityID != 0 {
		t.Fatalf("packet=%+v", msg)
	}
	if msg.States[0].T != world.FrameAt(h.tick, 20).Millis() {
		t.Fatalf("timestamp %d not from frame time", msg.States[0].T)
	}

	h.step()
	if n := len(h.sess.to(a, protocol.TypeEntityPosition)); n != 1 {
		t.Fatalf("idle tick after ack sent a packet (total %d)", n)
	}
}

func TestAdvance_DeltaBroadcastToEveryone(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	b := h.connect("b")

	h.srv.QueueCommands(a, nil)
	h.sess.push(session.EventPacket, a, &protocol.MoveMsg{Type: protocol.TypeMove, Commands: []protocol.MoveCommand{
		{Seq: 1, Move: [3]float64{0, 0, 1}, Dt: 0.05},
	}})
	h.step()

	bp := h.sess.to(b, protocol.TypeEntityPosition)
	if len(bp) != 1 {
		t.Fatalf("b position packets=%d", len(bp))
	}
	msg := bp[0].(*protocol.EntityPositionMsg)
	if msg.Ack != protocol.NoAck || len(msg.States) != 1 || msg.States[0].EntityID != 0 {
		t.Fatalf("b packet=%+v", msg)
	}
	if ap := h.sess.to(a, protocol.TypeEntityPosition); len(ap) != 1 || ap[0].(*protocol.EntityPositionMsg).Ack != 1 {
		t.Fatalf("a packet=%+v", ap)
	}
}

func TestAdvance_AtMostOnePositionPacketPerPlayer(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	h.srv.SpawnEntity(mgl64.Vec3{0, 90, 0}, mgl64.Vec3{1, 0, 0})
	h.srv.SpawnEntity(mgl64.Vec3{0, 90, 0}, mgl64.Vec3{0, 0, 1})

	for i := 0; i < 5; i++ {
		before := len(h.sess.to(a, protocol.TypeEntityPosition))
		h.step()
		after := len(h.sess.to(a, protocol.TypeEntityPosition))
		if after-before != 1 {
			t.Fatalf("tick %d sent %d packets", i, after-before)
		}
	}
	last := h.sess.to(a, protocol.TypeEntityPosition)
	if msg := last[len(last)-1].(*protocol.EntityPositionMsg); len(msg.States) != 2 {
		t.Fatalf("moving world entities missing from delta: %+v", msg)
	}
}

func TestDisconnectAndCommandsInSameTick(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	b := h.connect("b")

	move := &protocol.MoveMsg{Type: protocol.TypeMove, Commands: []protocol.MoveCommand{{Seq: 1, Dt: 0.05}}}
	h.sess.push(session.EventPacket, b, move)
	h.sess.push(session.EventDisconnect, b, nil)
	h.sess.push(session.EventDisconnect, a, nil)
	h.sess.push(session.EventPacket, a, move)
	h.sess.push(session.EventPacket, a, &protocol.SetBlockMsg{Type: protocol.TypeSetBlock, X: 1, Y: 70, Z: 1, Data: 1 << 16})
	h.step()

	if h.srv.Players().Len() != 0 || h.srv.World().Entities().Len() != 0 {
		t.Fatalf("players=%d entities=%d", h.srv.Players().Len(), h.srv.World().Entities().Len())
	}
	if h.sess.count(protocol.TypeSetBlock) != 0 {
		t.Fatalf("edit from a disconnected user was applied")
	}
}

func TestSetBlock_Pipeline(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	h.connect("b")
	w := h.srv.World()

	unknown := world.MakeBlock(999, 0)
	before := w.Block(world.BlockPos{X: 1, Y: 2, Z: 3})
	if h.srv.SetBlock(a, 1, 2, 3, unknown) {
		t.Fatalf("unknown block type accepted")
	}
	if w.Block(world.BlockPos{X: 1, Y: 2, Z: 3}) != before || h.sess.count(protocol.TypeSetBlock) != 0 {
		t.Fatalf("rejected edit changed state or was broadcast")
	}

	if !h.srv.SetBlock(a, 1, 100, 1, 0) || h.sess.count(protocol.TypeSetBlock) != 0 {
		t.Fatalf("no-op removal should succeed silently")
	}

	glass := world.MakeBlock(9, 2)
	if !h.srv.SetBlock(a, 1, 100, 1, glass) {
		t.Fatalf("valid edit rejected")
	}
	if h.sess.count(protocol.TypeSetBlock) != 2 {
		t.Fatalf("edit should reach both players, got %d", h.sess.count(protocol.TypeSetBlock))
	}
	if !h.srv.SetBlock(a, 1, 100, 1, glass) || h.sess.count(protocol.TypeSetBlock) != 2 {
		t.Fatalf("repeated edit should be a silent no-op")
	}
	if !h.srv.SetBlock(a, 1, 100, 1, 0) || h.sess.count(protocol.TypeSetBlock) != 4 {
		t.Fatalf("removal not broadcast")
	}

	if len(h.audit.entries) != 2 || h.audit.entries[0].To != uint32(glass) || h.audit.entries[1].From != uint32(glass) {
		t.Fatalf("audit=%+v", h.audit.entries)
	}

	if h.srv.SetBlock(a, 0, -1, 0, glass) || h.srv.SetBlock(a, 0, 128, 0, glass) {
		t.Fatalf("out of bounds edit accepted")
	}
	if h.srv.SetBlock(&session.User{ID: "ghost"}, 0, 100, 0, glass) {
		t.Fatalf("edit without a player accepted")
	}
	// Metrics are published at the end of a tick.
	h.step()
	if m := h.srv.Metrics(); m.BlockEdits != 2 || m.RejectedEdits != 4 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestConnect_StreamsChunksAndChat(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	b := h.connect("b")

	// Radius 1 around spawn: 27 chunks, within the default burst.
	if n := len(h.sess.to(a, protocol.TypeChunkData)); n != 27 {
		t.Fatalf("a got %d chunks", n)
	}

	h.sess.push(session.EventPacket, a, &protocol.ChatMsg{Type: protocol.TypeChat, Text: "hi"})
	h.step()
	got := h.sess.to(b, protocol.TypeChat)
	if len(got) != 1 || got[0].(*protocol.ChatMsg).From != "a" {
		t.Fatalf("b chat=%v", got)
	}
}

func TestRosterSnapshot(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	h.connect("b")
	r := h.srv.Roster()
	if len(r.Players) != 2 || r.Players[1].Name != "b" || r.Players[1].EntityID != 1 || r.Tick != h.tick {
		t.Fatalf("roster=%+v", r)
	}
	m := h.srv.Metrics()
	if m.Players != 2 || m.Entities != 2 || m.NextEntityID != 2 || m.Views != 2 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestDespawnEntity(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	id := h.srv.SpawnEntity(mgl64.Vec3{0, 90, 0}, mgl64.Vec3{})
	if h.srv.DespawnEntity(h.srv.PlayerFor(a).Entity) {
		t.Fatalf("player entity despawned by admin call")
	}
	if !h.srv.DespawnEntity(id) || h.srv.DespawnEntity(id) {
		t.Fatalf("despawn should succeed once")
	}
	if n := len(h.sess.to(a, protocol.TypeEntityDelete)); n != 1 {
		t.Fatalf("deletes=%d", n)
	}
}

func TestRun_AdminSpawn(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.TickRateHz = 200

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	id, err := h.srv.RequestSpawn(reqCtx, mgl64.Vec3{0, 90, 0}, mgl64.Vec3{})
	if err != nil {
		t.Fatalf("RequestSpawn: %v", err)
	}
	if err := h.srv.RequestDespawn(reqCtx, id+100); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if h.srv.World().Entities().Get(id) == nil {
		t.Fatalf("spawned entity missing")
	}
	h.srv.Stop()
	if _, err := h.srv.RequestSpawn(context.Background(), mgl64.Vec3{}, mgl64.Vec3{}); err != ErrStopped && err != ErrAdminBusy {
		t.Fatalf("expected stopped, got %v", err)
	}
}
