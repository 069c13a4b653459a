package world

// Observer receives in-radius world notifications from a View, synchronously,
// inside the tick that caused them. Everything passed in is a copy.
type Observer interface {
	ChunkLoaded(snap ChunkSnapshot)
	ChunkUnloaded(key ChunkKey)
	BlockChanged(change BlockChange)
}

// Ticker is implemented by observers that need to run once per tick
// (for example to pace outbound chunk traffic).
type Ticker interface {
	Tick(frame Frame)
}

type BlockChange struct {
	Key  ChunkKey
	Pos  BlockPos
	Data BlockData

	// Version of the chunk after the change.
	Version uint64
}
