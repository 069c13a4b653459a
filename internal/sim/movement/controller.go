// Package movement sequences a player's movement commands onto its entity.
package movement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/sim/world"
)

type Command struct {
	Seq   uint32 // client sequence number; 0 is a valid first value
	Move  mgl64.Vec3
	Yaw   float64
	Pitch float64
	Dt    float64 // seconds of client time this command covers
}

type Config struct {
	WalkSpeed float64
	MaxDt     float64
	MaxQueue  int
}

func (c *Config) applyDefaults() {
	if c.WalkSpeed <= 0 {
		c.WalkSpeed = 4.3
	}
	if c.MaxDt <= 0 {
		c.MaxDt = 0.25
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 128
	}
}

// Controller is the only writer of its entity's transform.
//
// Invariant: lastSequenceSent <= lastSequence.
type Controller struct {
	cfg    Config
	view   *world.View
	entity world.EntityID

	queue []Command

	lastSequence     uint32
	lastSequenceSent uint32
	// hasSequence is set once any command was processed, sentAny once one was acked.
	hasSequence bool
	sentAny     bool
	dropped     uint64
}

// NewController attaches a controller to entity; the view gives it the world and is
// recentered as the entity moves.
func NewController(view *world.View, entity world.EntityID, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg, view: view, entity: entity}
}

func (c *Controller) Entity() world.EntityID { return c.entity }

// Queue appends commands in the order given. When the queue would exceed MaxQueue the
// oldest commands are dropped.
func (c *Controller) Queue(cmds []Command) {
	c.queue = append(c.queue, cmds...)
	if over := len(c.queue) - c.cfg.MaxQueue; over > 0 {
		c.queue = append(c.queue[:0], c.queue[over:]...)
		c.dropped += uint64(over)
	}
}

func (c *Controller) Pending() int    { return len(c.queue) }
func (c *Controller) Dropped() uint64 { return c.dropped }

// Advance drains the queue onto the entity.
func (c *Controller) Advance(frame world.Frame) {
	if len(c.queue) == 0 {
		return
	}
	e := c.view.World().Entities().Get(c.entity)
	if e == nil {
		c.queue = c.queue[:0]
		return
	}
	for _, cmd := range c.queue {
		c.apply(e, cmd)
	}
	c.lastSequence = c.queue[len(c.queue)-1].Seq
	c.hasSequence = true
	c.queue = c.queue[:0]
	e.MarkDirty()
	c.view.Recenter(e.State.Position)
}

func (c *Controller) apply(e *world.Entity, cmd Command) {
	if !finite(cmd.Move[0], cmd.Move[1], cmd.Move[2], cmd.Yaw, cmd.Pitch, cmd.Dt) {
		return
	}
	dt := math.Max(0, math.Min(cmd.Dt, c.cfg.MaxDt))
	move := cmd.Move
	if move.Len() > 1 {
		move = move.Normalize()
	}
	vel := move.Mul(c.cfg.WalkSpeed)

	pos := e.State.Position.Add(vel.Mul(dt))
	maxY := float64(c.view.World().Config().HeightChunks*world.ChunkSize) - 1
	pos[1] = mgl64.Clamp(pos[1], 0, maxY)

	e.State.Position = pos
	e.State.Velocity = vel
	e.State.Rotation = mgl64.Vec3{mgl64.Clamp(cmd.Pitch, -90, 90), math.Mod(cmd.Yaw, 360), 0}
}

func (c *Controller) LastSequence() uint32     { return c.lastSequence }
func (c *Controller) LastSequenceSent() uint32 { return c.lastSequenceSent }

// Unacked reports whether a processed sequence number has not been acknowledged yet.
func (c *Controller) Unacked() bool {
	return c.hasSequence && (!c.sentAny || c.lastSequence != c.lastSequenceSent)
}

// MarkSent records that lastSequence went out in a position packet.
func (c *Controller) MarkSent() {
	if !c.hasSequence {
		return
	}
	c.lastSequenceSent = c.lastSequence
	c.sentAny = true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
