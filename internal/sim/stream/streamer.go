// Package stream turns chunk view notifications into chunk packets for one user.
package stream

import (
	"golang.org/x/time/rate"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/session"
	"blockd.dev/internal/sim/world"
)

type Sender interface {
	Send(to *session.User, p protocol.Packet)
}

type Config struct {
	ChunksPerSec float64
	Burst        int
}

// Streamer is a world.Observer. Newly visible chunks are queued and sent from Tick,
// paced by a token bucket that runs on frame time.
type Streamer struct {
	user    *session.User
	out     Sender
	cache   *Cache
	limiter *rate.Limiter

	pending []world.ChunkKey
	queued  map[world.ChunkKey]world.ChunkSnapshot
	sent    map[world.ChunkKey]struct{}

	sentChunks uint64
}

func New(user *session.User, out Sender, cache *Cache, cfg Config) *Streamer {
	if cfg.ChunksPerSec <= 0 {
		cfg.ChunksPerSec = 400
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 64
	}
	return &Streamer{
		user:    user,
		out:     out,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.ChunksPerSec), cfg.Burst),
		queued:  map[world.ChunkKey]world.ChunkSnapshot{},
		sent:    map[world.ChunkKey]struct{}{},
	}
}

func (s *Streamer) ChunkLoaded(snap world.ChunkSnapshot) {
	if _, ok := s.queued[snap.Key]; !ok {
		s.pending = append(s.pending, snap.Key)
	}
	s.queued[snap.Key] = snap
}

func (s *Streamer) ChunkUnloaded(key world.ChunkKey) {
	if _, ok := s.queued[key]; ok {
		// Never reached the client.
		delete(s.queued, key)
		return
	}
	if _, ok := s.sent[key]; ok {
		delete(s.sent, key)
		s.out.Send(s.user, &protocol.ChunkUnloadMsg{Type: protocol.TypeChunkUnload, Chunk: chunkTriple(key)})
	}
}

// BlockChanged patches queued snapshots so a chunk sent later is never older than a
// SET_BLOCK the client already received.
func (s *Streamer) BlockChanged(ch world.BlockChange) {
	snap, ok := s.queued[ch.Key]
	if !ok {
		return
	}
	blocks := make([]world.BlockData, len(snap.Blocks))
	copy(blocks, snap.Blocks)
	blocks[world.LocalIndex(ch.Pos)] = ch.Data
	snap.Blocks = blocks
	snap.Version = ch.Version
	s.queued[ch.Key] = snap
}

func (s *Streamer) Tick(frame world.Frame) {
	now := frame.Clock()
	for len(s.pending) > 0 {
		key := s.pending[0]
		snap, ok := s.queued[key]
		if !ok {
			s.pending = s.pending[1:]
			continue
		}
		if !s.limiter.AllowN(now, 1) {
			return
		}
		s.out.Send(s.user, &protocol.ChunkDataMsg{
			Type:    protocol.TypeChunkData,
			Chunk:   chunkTriple(key),
			Version: snap.Version,
			Cells:   s.cache.Encoded(snap),
		})
		delete(s.queued, key)
		s.sent[key] = struct{}{}
		s.pending = s.pending[1:]
		s.sentChunks++
	}
}

func (s *Streamer) Backlog() int       { return len(s.queued) }
func (s *Streamer) SentChunks() uint64 { return s.sentChunks }

func chunkTriple(k world.ChunkKey) [3]int { return [3]int{k.CX, k.CY, k.CZ} }
