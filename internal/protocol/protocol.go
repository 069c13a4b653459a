package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeError   = "ERROR"

	TypeEntityCreate   = "ENTITY_CREATE"
	TypeEntityDelete   = "ENTITY_DELETE"
	TypeEntityPosition = "ENTITY_POSITION"
	TypeReadyPlayer    = "READY_PLAYER"
	TypeSetBlock       = "SET_BLOCK"
	TypeChunkData      = "CHUNK_DATA"
	TypeChunkUnload    = "CHUNK_UNLOAD"
	TypeChat           = "CHAT"
	TypeMove           = "MOVE"
)

const (
	// NoAck is sent in ENTITY_POSITION when no movement command is waiting for acknowledgment.
	NoAck uint32 = 0xFFFFFFFF

	// NoOwner is the owner wire id of entities no player controls.
	NoOwner uint8 = 0xFF
)

// Packet is any message the server sends or accepts.
type Packet interface {
	PacketType() string
}

// BaseMessage lets us route unknown messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
