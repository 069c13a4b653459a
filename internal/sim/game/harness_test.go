package game

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/chat"
	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/catalogs"
	"blockd.dev/internal/sim/world"
)

type delivery struct {
	to        *session.User
	p         protocol.Packet
	broadcast bool
}

// fakeSession mirrors the transport contract: broadcasts reach users whose connect
// event was polled (or who were joined directly) and have not been polled out.
type fakeSession struct {
	events []session.Event
	active []*session.User
	sent   []delivery
	wire   uint8
}

func (f *fakeSession) Poll() []session.Event {
	evs := f.events
	f.events = nil
	for _, ev := range evs {
		switch ev.Kind {
		case session.EventConnect:
			f.active = append(f.active, ev.User)
		case session.EventDisconnect:
			f.drop(ev.User)
		}
	}
	return evs
}

func (f *fakeSession) Send(to *session.User, p protocol.Packet) {
	f.sent = append(f.sent, delivery{to: to, p: p})
}

func (f *fakeSession) Broadcast(p protocol.Packet) {
	for _, u := range f.active {
		f.sent = append(f.sent, delivery{to: u, p: p, broadcast: true})
	}
}

func (f *fakeSession) Users() []*session.User { return f.active }

func (f *fakeSession) drop(u *session.User) {
	for i, have := range f.active {
		if have == u {
			f.active = append(f.active[:i], f.active[i+1:]...)
			return
		}
	}
}

func (f *fakeSession) newUser(name string) *session.User {
	u := &session.User{ID: "id-" + name, WireID: f.wire, Name: name}
	f.wire++
	return u
}

func (f *fakeSession) push(kind session.EventKind, u *session.User, p protocol.Packet) {
	f.events = append(f.events, session.Event{Kind: kind, User: u, Packet: p})
}

// to returns packets delivered to u, optionally filtered by type.
func (f *fakeSession) to(u *session.User, typ string) []protocol.Packet {
	var out []protocol.Packet
	for _, d := range f.sent {
		if d.to == u && (typ == "" || d.p.PacketType() == typ) {
			out = append(out, d.p)
		}
	}
	return out
}

func (f *fakeSession) count(typ string) int {
	n := 0
	for _, d := range f.sent {
		if d.p.PacketType() == typ {
			n++
		}
	}
	return n
}

type auditRecorder struct{ entries []AuditEntry }

func (a *auditRecorder) WriteAudit(e AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

type harness struct {
	t     *testing.T
	sess  *fakeSession
	srv   *Server
	audit *auditRecorder
	tick  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stone := world.MakeBlock(1, 0)
	w := world.New(world.WorldConfig{
		HeightChunks: 8,
		Terrain:      []world.TerrainLayer{{Block: stone, Height: 64}},
	}, nil, catalogs.Default(), nil)
	sess := &fakeSession{}
	audit := &auditRecorder{}
	srv := New(Config{
		TickRateHz: 20,
		SpawnPos:   mgl64.Vec3{0, 80, 0},
		ViewRadius: 1,
	}, sess, w, Options{Chat: chat.NewHub(sess, 64), Audit: audit})
	return &harness{t: t, sess: sess, srv: srv, audit: audit}
}

// connect goes through Poll, the way the transport delivers users.
func (h *harness) connect(name string) *session.User {
	u := h.sess.newUser(name)
	h.sess.push(session.EventConnect, u, nil)
	h.step()
	return u
}

func (h *harness) step() {
	h.tick++
	h.srv.Advance(world.FrameAt(h.tick, h.srv.cfg.TickRateHz))
}
