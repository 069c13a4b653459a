// Package session is the contract between the tick loop and whatever network
// transport delivers players to it.
package session

import "blockd.dev/internal/protocol"

// User is one connected client as seen by the game.
type User struct {
	ID     string // uuid, unique per connection
	WireID uint8  // short id used on the wire; 0xFF is never assigned
	Name   string

	data any
}

// Data returns the per-connection slot the game uses to find its player.
func (u *User) Data() any { return u.data }

func (u *User) SetData(v any) { u.data = v }

type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventPacket
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventPacket:
		return "packet"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	User   *User
	Packet protocol.Packet // EventPacket only
}

// Session is polled once per tick from the tick goroutine. Send and Broadcast
// are fire-and-forget; delivery is the transport's concern.
type Session interface {
	Poll() []Event
	Send(to *User, p protocol.Packet)
	// Broadcast reaches every user whose connect event has been polled and whose
	// disconnect event has not.
	Broadcast(p protocol.Packet)
	Users() []*User
}
