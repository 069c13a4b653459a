// Package chat routes chat lines between users that share a channel.
package chat

import (
	"strings"
	"unicode/utf8"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
)

type Sender interface {
	Send(to *session.User, p protocol.Packet)
}

// Hub is driven from the tick goroutine only.
type Hub struct {
	out    Sender
	maxLen int

	members  map[string][]*session.User
	channels map[*session.User][]string
}

func NewHub(out Sender, maxLen int) *Hub {
	if maxLen <= 0 {
		maxLen = 256
	}
	return &Hub{
		out:      out,
		maxLen:   maxLen,
		members:  map[string][]*session.User{},
		channels: map[*session.User][]string{},
	}
}

func (h *Hub) Join(u *session.User, channel string) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if u == nil || channel == "" {
		return
	}
	for _, c := range h.channels[u] {
		if c == channel {
			return
		}
	}
	h.channels[u] = append(h.channels[u], channel)
	h.members[channel] = append(h.members[channel], u)
}

// Leave removes u from every channel.
func (h *Hub) Leave(u *session.User) {
	for _, c := range h.channels[u] {
		list := h.members[c]
		for i, m := range list {
			if m == u {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(h.members, c)
		} else {
			h.members[c] = list
		}
	}
	delete(h.channels, u)
}

// Say sends text to every channel the speaker is in. Users in several of those
// channels get one copy per channel.
func (h *Hub) Say(u *session.User, text string) int {
	text = strings.TrimSpace(text)
	if u == nil || text == "" {
		return 0
	}
	if utf8.RuneCountInString(text) > h.maxLen {
		text = string([]rune(text)[:h.maxLen])
	}
	n := 0
	for _, c := range h.channels[u] {
		msg := &protocol.ChatMsg{Type: protocol.TypeChat, Channel: c, From: u.Name, Text: text}
		for _, m := range h.members[c] {
			h.out.Send(m, msg)
			n++
		}
	}
	return n
}

func (h *Hub) Members(channel string) int { return len(h.members[channel]) }
