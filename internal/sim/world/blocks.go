package world

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// BlockData is the opaque value stored in a cell: block type in the high 16 bits,
// per-block metadata in the low 16 bits. Zero is empty (air).
type BlockData uint32

func MakeBlock(typ, meta uint16) BlockData { return BlockData(uint32(typ)<<16 | uint32(meta)) }

func (b BlockData) Type() uint16  { return uint16(b >> 16) }
func (b BlockData) Meta() uint16  { return uint16(b) }
func (b BlockData) IsEmpty() bool { return b == 0 }

type BlockPos struct {
	X, Y, Z int
}

// BlockPosOf returns the cell containing p.
func BlockPosOf(p mgl64.Vec3) BlockPos {
	return BlockPos{X: int(math.Floor(p[0])), Y: int(math.Floor(p[1])), Z: int(math.Floor(p[2]))}
}

// Frame is one simulation step. Time is the tick's logical time in seconds.
type Frame struct {
	Tick uint64
	Time float64
}

func FrameAt(tick uint64, tickRateHz int) Frame {
	if tickRateHz <= 0 {
		tickRateHz = 1
	}
	return Frame{Tick: tick, Time: float64(tick) / float64(tickRateHz)}
}

// Millis is the timestamp stamped onto broadcast entity state.
func (f Frame) Millis() int64 { return int64(math.Round(f.Time * 1000)) }

// Clock maps logical time onto a time.Time for APIs that want one (rate limiters).
func (f Frame) Clock() time.Time {
	return time.Unix(0, 0).Add(time.Duration(f.Time * float64(time.Second)))
}
