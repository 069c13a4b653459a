package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blockd.dev/internal/logging"
	"blockd.dev/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		encoding = flag.String("encoding", "json", "wire encoding: json|msgpack")
		rateHz   = flag.Int("rate", 20, "MOVE packets per second")
		place    = flag.Int("place_every", 100, "send a SET_BLOCK every N moves (0 disables)")
	)
	flag.Parse()

	logger := logging.Must(logging.Config{Level: "info", Format: "console"}).Named("bot")
	defer func() { _ = logger.Sync() }()

	codec, ok := protocol.CodecByName(*encoding)
	if !ok {
		logger.Fatal("unknown encoding", zap.String("encoding", *encoding))
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Encoding:        codec.Name(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	b := &bot{conn: conn, codec: codec, log: logger, ready: make(chan struct{}), done: make(chan struct{})}
	b.wireID.Store(-1)
	b.selfID.Store(-1)
	go b.readLoop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	select {
	case <-b.ready:
	case <-stop:
		return
	case <-time.After(10 * time.Second):
		logger.Fatal("no READY_PLAYER within 10s")
	}

	if *rateHz <= 0 {
		*rateHz = 20
	}
	dt := 1 / float64(*rateHz)
	move := time.NewTicker(time.Second / time.Duration(*rateHz))
	defer move.Stop()
	report := time.NewTicker(2 * time.Second)
	defer report.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	yaw := r.Float64() * 360
	var seq uint32
	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-b.closed():
			logger.Info("connection closed")
			return
		case <-report.C:
			logger.Info("status",
				zap.Uint32("sent_seq", seq),
				zap.Uint32("ack", b.ack.Load()),
				zap.Int64("entities", b.entities.Load()),
				zap.Int64("chunks", b.chunks.Load()),
			)
		case <-move.C:
			seq++
			if r.Intn(40) == 0 {
				yaw = math.Mod(yaw+r.Float64()*90-45+360, 360)
			}
			rad := yaw * math.Pi / 180
			cmd := protocol.MoveCommand{Seq: seq, Move: [3]float64{math.Sin(rad), 0, math.Cos(rad)}, Yaw: yaw, Dt: dt}
			if err := b.send(&protocol.MoveMsg{Type: protocol.TypeMove, Commands: []protocol.MoveCommand{cmd}}); err != nil {
				logger.Warn("send MOVE", zap.Error(err))
				return
			}
			if *place > 0 && int(seq)%*place == 0 {
				pos := b.position()
				sb := &protocol.SetBlockMsg{
					Type: protocol.TypeSetBlock,
					X:    int(math.Floor(pos[0])),
					Y:    int(math.Floor(pos[1])) - 1,
					Z:    int(math.Floor(pos[2])),
					Data: 8 << 16,
				}
				if err := b.send(sb); err != nil {
					logger.Warn("send SET_BLOCK", zap.Error(err))
					return
				}
			}
		}
	}
}

type bot struct {
	conn  *websocket.Conn
	codec protocol.Codec
	log   *zap.Logger

	wireID   atomic.Int32
	selfID   atomic.Int64
	ack      atomic.Uint32
	entities atomic.Int64
	chunks   atomic.Int64
	pos      atomic.Value // [3]float64

	ready     chan struct{}
	done      chan struct{}
	readyOnce bool
}

func (b *bot) closed() <-chan struct{} { return b.done }

func (b *bot) position() [3]float64 {
	if v, ok := b.pos.Load().([3]float64); ok {
		return v
	}
	return [3]float64{}
}

func (b *bot) send(p protocol.Packet) error {
	payload, err := b.codec.Marshal(p)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if b.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteMessage(mt, payload)
}

func (b *bot) readLoop() {
	defer close(b.done)
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			b.log.Info("read", zap.Error(err))
			return
		}
		var base protocol.BaseMessage
		if err := b.codec.Unmarshal(msg, &base); err != nil {
			continue
		}
		if err := b.handle(base.Type, msg); err != nil {
			b.log.Warn("decode", zap.String("type", base.Type), zap.Error(err))
		}
	}
}

func (b *bot) handle(typ string, msg []byte) error {
	switch typ {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := b.codec.Unmarshal(msg, &w); err != nil {
			return err
		}
		b.wireID.Store(int32(w.WireID))
		b.log.Info("WELCOME", zap.String("session", w.SessionID), zap.Uint8("wire_id", w.WireID),
			zap.Int("tick_rate_hz", w.TickRateHz), zap.String("blocks", w.Blocks.Digest))
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := b.codec.Unmarshal(msg, &e); err != nil {
			return err
		}
		b.log.Warn("ERROR", zap.String("code", e.Code), zap.String("message", e.Message))
	case protocol.TypeEntityCreate:
		var c protocol.EntityCreateMsg
		if err := b.codec.Unmarshal(msg, &c); err != nil {
			return err
		}
		b.entities.Add(1)
		if int32(c.Owner) == b.wireID.Load() {
			b.selfID.Store(int64(c.EntityID))
			b.pos.Store(c.Pos)
		}
	case protocol.TypeEntityDelete:
		b.entities.Add(-1)
	case protocol.TypeEntityPosition:
		var p protocol.EntityPositionMsg
		if err := b.codec.Unmarshal(msg, &p); err != nil {
			return err
		}
		if p.Ack != protocol.NoAck {
			b.ack.Store(p.Ack)
		}
		self := b.selfID.Load()
		for _, st := range p.States {
			if int64(st.EntityID) == self {
				b.pos.Store(st.Pos)
			}
		}
	case protocol.TypeChunkData:
		b.chunks.Add(1)
	case protocol.TypeChunkUnload:
		b.chunks.Add(-1)
	case protocol.TypeReadyPlayer:
		if !b.readyOnce {
			b.readyOnce = true
			close(b.ready)
		}
	case protocol.TypeChat:
		var c protocol.ChatMsg
		if err := b.codec.Unmarshal(msg, &c); err != nil {
			return err
		}
		b.log.Info("CHAT", zap.String("channel", c.Channel), zap.String("from", c.From), zap.String("text", c.Text))
	default:
		return fmt.Errorf("unhandled type %q", typ)
	}
	return nil
}
