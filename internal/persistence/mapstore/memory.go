package mapstore

import (
	"sync"

	"blockd.dev/internal/sim/world"
)

// Memory keeps encoded chunks in a map. Useful for tests and throwaway worlds.
type Memory struct {
	mu     sync.Mutex
	chunks map[world.ChunkKey][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{chunks: map[world.ChunkKey][]byte{}}
}

func (m *Memory) LoadChunk(key world.ChunkKey) ([]world.BlockData, bool, error) {
	m.mu.Lock()
	b, ok := m.chunks[key]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}
	if !ok {
		return nil, false, nil
	}
	blocks, err := decodeChunk(b)
	if err != nil {
		return nil, false, err
	}
	return blocks, true, nil
}

func (m *Memory) SaveChunk(key world.ChunkKey, blocks []world.BlockData) error {
	b := encodeChunk(blocks)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.chunks[key] = b
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
