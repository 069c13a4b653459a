package chat

import (
	"strings"
	"testing"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
)

type sink struct {
	to  []*session.User
	got []*protocol.ChatMsg
}

func (s *sink) Send(to *session.User, p protocol.Packet) {
	s.to = append(s.to, to)
	s.got = append(s.got, p.(*protocol.ChatMsg))
}

func TestHub_JoinSayLeave(t *testing.T) {
	out := &sink{}
	h := NewHub(out, 5)
	a := &session.User{Name: "a"}
	b := &session.User{Name: "b"}
	c := &session.User{Name: "c"}

	h.Join(a, "Global ")
	h.Join(a, "global")
	h.Join(b, "global")
	h.Join(c, "builders")
	if h.Members("global") != 2 {
		t.Fatalf("members=%d", h.Members("global"))
	}

	if n := h.Say(a, "  hello world "); n != 2 {
		t.Fatalf("delivered %d", n)
	}
	if out.got[0].Text != "hello" || out.got[0].From != "a" || out.got[0].Channel != "global" {
		t.Fatalf("msg=%+v", out.got[0])
	}
	for _, to := range out.to {
		if to == c {
			t.Fatalf("user outside the channel received chat")
		}
	}

	h.Leave(b)
	h.Leave(b)
	if h.Members("global") != 1 || h.Say(b, "x") != 0 {
		t.Fatalf("leave did not remove b")
	}
	if h.Say(a, strings.Repeat(" ", 3)) != 0 {
		t.Fatalf("blank text should be dropped")
	}
}
