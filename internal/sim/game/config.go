package game

import (
	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/sim/movement"
	"blockd.dev/internal/sim/stream"
	"blockd.dev/internal/sim/tuning"
)

// Config is the game's slice of the tuning file plus the spawn point.
type Config struct {
	TickRateHz     int
	SpawnPos       mgl64.Vec3
	ViewRadius     int
	DefaultChannel string

	Movement movement.Config
	Stream   stream.Config
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.SpawnPos == (mgl64.Vec3{}) {
		c.SpawnPos = mgl64.Vec3{0, 80, 0}
	}
	if c.ViewRadius <= 0 {
		c.ViewRadius = 4
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = "global"
	}
}

// ConfigFromTuning maps the tuning file onto a game Config.
func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickRateHz:     t.TickRateHz,
		SpawnPos:       mgl64.Vec3(t.SpawnPos),
		ViewRadius:     t.ViewRadius,
		DefaultChannel: t.Chat.DefaultChannel,
		Movement: movement.Config{
			WalkSpeed: t.Movement.WalkSpeed,
			MaxDt:     t.Movement.MaxCommandDt,
			MaxQueue:  t.Movement.MaxQueueDepth,
		},
		Stream: stream.Config{
			ChunksPerSec: t.Stream.ChunksPerSec,
			Burst:        t.Stream.Burst,
		},
	}
}
