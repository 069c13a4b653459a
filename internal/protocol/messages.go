package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Encoding        string `json:"encoding,omitempty"` // "json" (default) or "msgpack"
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	WireID          uint8     `json:"wire_id"`
	Encoding        string    `json:"encoding"`
	TickRateHz      int       `json:"tick_rate_hz"`
	ChunkSize       int       `json:"chunk_size"`
	HeightChunks    int       `json:"height_chunks"`
	Blocks          DigestRef `json:"blocks"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type EntityCreateMsg struct {
	Type     string     `json:"type"`
	EntityID uint32     `json:"entity_id"`
	Flags    uint8      `json:"flags"`
	Owner    uint8      `json:"owner"`
	Pos      [3]float64 `json:"pos"`
	Rot      [3]float64 `json:"rot"`
	Vel      [3]float64 `json:"vel"`
}

type EntityDeleteMsg struct {
	Type     string `json:"type"`
	EntityID uint32 `json:"entity_id"`
}

type EntityState struct {
	EntityID uint32     `json:"entity_id"`
	Pos      [3]float64 `json:"pos"`
	Rot      [3]float64 `json:"rot"`
	Vel      [3]float64 `json:"vel"`
	T        int64      `json:"t"`
}

// ENTITY_POSITION carries the receiver's own ack (or NoAck) plus every entity whose
// state changed this tick.
type EntityPositionMsg struct {
	Type   string        `json:"type"`
	Ack    uint32        `json:"ack"`
	States []EntityState `json:"states"`
}

type ReadyPlayerMsg struct {
	Type string `json:"type"`
}

// SET_BLOCK is both the client's edit request and the server's broadcast.
type SetBlockMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
	Data uint32 `json:"data"`
}

type ChunkDataMsg struct {
	Type    string `json:"type"`
	Chunk   [3]int `json:"chunk"`
	Version uint64 `json:"version"`
	Cells   string `json:"cells"` // base64 varint RLE, x fastest then z then y
}

type ChunkUnloadMsg struct {
	Type  string `json:"type"`
	Chunk [3]int `json:"chunk"`
}

type ChatMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	From    string `json:"from,omitempty"`
	Text    string `json:"text"`
}

type MoveCommand struct {
	Seq   uint32     `json:"seq"`
	Move  [3]float64 `json:"move"`
	Yaw   float64    `json:"yaw"`
	Pitch float64    `json:"pitch"`
	Dt    float64    `json:"dt"`
}

type MoveMsg struct {
	Type     string        `json:"type"`
	Commands []MoveCommand `json:"commands"`
}

func (*HelloMsg) PacketType() string          { return TypeHello }
func (*WelcomeMsg) PacketType() string        { return TypeWelcome }
func (*ErrorMsg) PacketType() string          { return TypeError }
func (*EntityCreateMsg) PacketType() string   { return TypeEntityCreate }
func (*EntityDeleteMsg) PacketType() string   { return TypeEntityDelete }
func (*EntityPositionMsg) PacketType() string { return TypeEntityPosition }
func (*ReadyPlayerMsg) PacketType() string    { return TypeReadyPlayer }
func (*SetBlockMsg) PacketType() string       { return TypeSetBlock }
func (*ChunkDataMsg) PacketType() string      { return TypeChunkData }
func (*ChunkUnloadMsg) PacketType() string    { return TypeChunkUnload }
func (*ChatMsg) PacketType() string           { return TypeChat }
func (*MoveMsg) PacketType() string           { return TypeMove }
