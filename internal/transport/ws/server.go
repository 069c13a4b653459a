// Package ws carries players to the tick loop over websockets. It implements
// session.Session: connections are accepted on their own goroutines and surface
// to the game only through Poll.
package ws

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/catalogs"
	"blockd.dev/internal/sim/tuning"
	"blockd.dev/internal/sim/world"
)

var ErrRosterFull = errors.New("roster full")

const maxNameLen = 32

type Config struct {
	MaxPlayers       int
	SendQueue        int
	MaxEventsPerPoll int
	InboundPerSec    float64
	InboundBurst     int

	// Echoed in WELCOME.
	TickRateHz   int
	HeightChunks int
	Blocks       protocol.DigestRef

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingEvery        time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxPlayers <= 0 || c.MaxPlayers > int(protocol.NoOwner) {
		c.MaxPlayers = int(protocol.NoOwner)
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 1024
	}
	if c.MaxEventsPerPoll <= 0 {
		c.MaxEventsPerPoll = 4096
	}
	if c.InboundPerSec <= 0 {
		c.InboundPerSec = 60
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = int(c.InboundPerSec * 2)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingEvery <= 0 {
		c.PingEvery = c.ReadTimeout / 3
	}
}

func ConfigFromTuning(t tuning.Tuning, blocks *catalogs.BlockRegistry) Config {
	c := Config{
		MaxPlayers:       t.Session.MaxPlayers,
		SendQueue:        t.Session.SendQueue,
		MaxEventsPerPoll: t.Session.MaxEventsPerPoll,
		InboundPerSec:    t.Session.InboundPerSec,
		InboundBurst:     t.Session.InboundBurst,
		TickRateHz:       t.TickRateHz,
		HeightChunks:     t.HeightChunks,
	}
	if blocks != nil {
		c.Blocks = protocol.DigestRef{Digest: blocks.Digest, Count: blocks.Count()}
	}
	return c
}

type Server struct {
	cfg Config
	log *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	queue   []session.Event
	conns   map[*session.User]*conn // handshaken, disconnect not yet polled
	active  map[*session.User]*conn // connect polled, disconnect not yet polled
	freeIDs []uint8
	closed  bool

	slowKicks     atomic.Uint64
	rateKicks     atomic.Uint64
	badPackets    atomic.Uint64
	rosterRejects atomic.Uint64
}

func NewServer(cfg Config, logger *zap.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg: cfg,
		log: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:  map[*session.User]*conn{},
		active: map[*session.User]*conn{},
	}
	// Pop from the end so low ids go out first.
	for id := cfg.MaxPlayers - 1; id >= 0; id-- {
		s.freeIDs = append(s.freeIDs, uint8(id))
	}
	return s
}

type conn struct {
	user  *session.User
	ws    *websocket.Conn
	codec protocol.Codec
	out   chan []byte
	kick  chan kick // final error, written by the writer before closing
	done  chan struct{}
	once  sync.Once
}

type kick struct {
	code    string
	payload []byte
}

func (c *conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// shutdown sends a close frame and tears the socket down; the reader then exits
// and reports the disconnect.
func (c *conn) shutdown(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := s.handshake(ws)
		if c == nil {
			return
		}
		log := s.log.With(zap.String("user", c.user.ID), zap.Uint8("wire_id", c.user.WireID))
		log.Info("player connected", zap.String("name", c.user.Name), zap.String("encoding", c.codec.Name()))

		go s.writeLoop(c)
		reason := s.readLoop(c)
		c.shutdown(websocket.CloseNormalClosure, "")
		log.Info("player disconnected", zap.String("reason", reason))
		s.push(session.Event{Kind: session.EventDisconnect, User: c.user})
	}
}

func (s *Server) handshake(ws *websocket.Conn) *conn {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}

	var hello protocol.HelloMsg
	if err := protocol.JSON.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		s.reject(ws, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(ws, protocol.ErrProtoVersion, "unsupported protocol_version")
		return nil
	}
	codec, ok := protocol.CodecByName(hello.Encoding)
	if !ok {
		s.reject(ws, protocol.ErrProtoEncoding, "unsupported encoding")
		return nil
	}

	wireID, err := s.allocWireID()
	if err != nil {
		s.rosterRejects.Add(1)
		s.reject(ws, protocol.ErrRosterFull, "server is full")
		return nil
	}

	c := &conn{
		user:  &session.User{ID: uuid.NewString(), WireID: wireID, Name: cleanName(hello.Name)},
		ws:    ws,
		codec: codec,
		out:   make(chan []byte, s.cfg.SendQueue),
		kick:  make(chan kick, 1),
		done:  make(chan struct{}),
	}
	welcome := &protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.user.ID,
		WireID:          wireID,
		Encoding:        codec.Name(),
		TickRateHz:      s.cfg.TickRateHz,
		ChunkSize:       world.ChunkSize,
		HeightChunks:    s.cfg.HeightChunks,
		Blocks:          s.cfg.Blocks,
	}
	if err := s.write(ws, codec, welcome); err != nil {
		s.releaseWireID(wireID)
		return nil
	}

	s.mu.Lock()
	s.conns[c.user] = c
	s.queue = append(s.queue, session.Event{Kind: session.EventConnect, User: c.user})
	s.mu.Unlock()
	return c
}

func (s *Server) reject(ws *websocket.Conn, code, msg string) {
	_ = s.write(ws, protocol.JSON, &protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func (s *Server) write(ws *websocket.Conn, codec protocol.Codec, p protocol.Packet) error {
	b, err := codec.Marshal(p)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return ws.WriteMessage(frameType(codec), b)
}

func frameType(c protocol.Codec) int {
	if c.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (s *Server) writeLoop(c *conn) {
	ping := time.NewTicker(s.cfg.PingEvery)
	defer ping.Stop()
	mt := frameType(c.codec)
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(mt, b); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case k := <-c.kick:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = c.ws.WriteMessage(mt, k.payload)
			c.shutdown(websocket.ClosePolicyViolation, k.code)
			return
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// readLoop returns why the connection ended.
func (s *Server) readLoop(c *conn) string {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.InboundPerSec), s.cfg.InboundBurst)
	strikes := 0
	kicked := false
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return "closed by server"
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed by client"
			}
			return err.Error()
		}
		if kicked {
			continue
		}
		if !limiter.Allow() {
			strikes++
			if strikes > s.cfg.InboundBurst {
				s.rateKicks.Add(1)
				s.fail(c, protocol.ErrRateLimit, "too many packets")
				kicked = true
			}
			continue
		}
		strikes = 0

		p, err := protocol.DecodeClient(c.codec, msg)
		if err != nil {
			s.badPackets.Add(1)
			s.log.Debug("bad packet", zap.String("user", c.user.ID), zap.Error(err))
			s.sendError(c, protocol.ErrProtoBadRequest, err.Error())
			continue
		}
		s.push(session.Event{Kind: session.EventPacket, User: c.user, Packet: p})
	}
}

func (s *Server) sendError(c *conn, code, msg string) {
	b, err := c.codec.Marshal(&protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
	if err != nil {
		return
	}
	c.enqueue(b)
}

// fail hands the writer a last error packet that jumps the send queue; the
// writer sends it and closes the connection.
func (s *Server) fail(c *conn, code, msg string) {
	b, err := c.codec.Marshal(&protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
	if err != nil {
		c.shutdown(websocket.ClosePolicyViolation, code)
		return
	}
	select {
	case c.kick <- kick{code: code, payload: b}:
	default:
	}
}

func (s *Server) push(ev session.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
}

// Poll drains at most MaxEventsPerPoll events in arrival order. A user's wire id
// returns to the pool when their disconnect is polled.
func (s *Server) Poll() []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	if n > s.cfg.MaxEventsPerPoll {
		n = s.cfg.MaxEventsPerPoll
	}
	out := make([]session.Event, n)
	copy(out, s.queue[:n])
	rest := copy(s.queue, s.queue[n:])
	for i := rest; i < len(s.queue); i++ {
		s.queue[i] = session.Event{}
	}
	s.queue = s.queue[:rest]

	for _, ev := range out {
		switch ev.Kind {
		case session.EventConnect:
			if c, ok := s.conns[ev.User]; ok {
				s.active[ev.User] = c
			}
		case session.EventDisconnect:
			delete(s.active, ev.User)
			delete(s.conns, ev.User)
			s.freeIDs = append(s.freeIDs, ev.User.WireID)
		}
	}
	return out
}

func (s *Server) Send(to *session.User, p protocol.Packet) {
	s.mu.Lock()
	c, ok := s.active[to]
	s.mu.Unlock()
	if !ok {
		return
	}
	b, err := c.codec.Marshal(p)
	if err != nil {
		s.log.Error("marshal", zap.String("type", p.PacketType()), zap.Error(err))
		return
	}
	s.deliver(c, b)
}

func (s *Server) Broadcast(p protocol.Packet) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.active))
	for _, c := range s.active {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	encoded := map[string][]byte{}
	for _, c := range targets {
		b, ok := encoded[c.codec.Name()]
		if !ok {
			var err error
			b, err = c.codec.Marshal(p)
			if err != nil {
				s.log.Error("marshal", zap.String("type", p.PacketType()), zap.Error(err))
				return
			}
			encoded[c.codec.Name()] = b
		}
		s.deliver(c, b)
	}
}

func (s *Server) deliver(c *conn, b []byte) {
	if c.enqueue(b) {
		return
	}
	s.slowKicks.Add(1)
	s.log.Warn("send queue full, dropping client", zap.String("user", c.user.ID), zap.Int("queue", cap(c.out)))
	s.fail(c, protocol.ErrSlowClient, "send queue overflow")
}

func (s *Server) Users() []*session.User {
	s.mu.Lock()
	out := make([]*session.User, 0, len(s.active))
	for u := range s.active {
		out = append(out, u)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WireID < out[j].WireID })
	return out
}

type Stats struct {
	Connections   int
	QueuedEvents  int
	SlowKicks     uint64
	RateKicks     uint64
	BadPackets    uint64
	RosterRejects uint64
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	st := Stats{Connections: len(s.conns), QueuedEvents: len(s.queue)}
	s.mu.Unlock()
	st.SlowKicks = s.slowKicks.Load()
	st.RateKicks = s.rateKicks.Load()
	st.BadPackets = s.badPackets.Load()
	st.RosterRejects = s.rosterRejects.Load()
	return st
}

// Close disconnects everyone and refuses new handshakes.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) allocWireID() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.freeIDs) == 0 {
		return 0, ErrRosterFull
	}
	id := s.freeIDs[len(s.freeIDs)-1]
	s.freeIDs = s.freeIDs[:len(s.freeIDs)-1]
	return id, nil
}

func (s *Server) releaseWireID(id uint8) {
	s.mu.Lock()
	s.freeIDs = append(s.freeIDs, id)
	s.mu.Unlock()
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "player"
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}
