// Package mapstore persists chunks for the world: in memory, as one zstd file per
// chunk, or in a SQLite database.
package mapstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"blockd.dev/internal/sim/encoding"
	"blockd.dev/internal/sim/world"
)

var ErrClosed = errors.New("map store closed")

var magic = []byte("BKC1")

// Shared codecs; EncodeAll/DecodeAll are safe for concurrent use.
var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Open builds the store named by kind ("memory", "dir" or "sqlite").
func Open(kind, path string, logger *zap.Logger) (world.MapStore, error) {
	switch strings.ToLower(kind) {
	case "", "memory":
		return NewMemory(), nil
	case "dir":
		d, err := OpenDir(path)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sqlite":
		s, err := OpenSQLite(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown map store kind %q", kind)
	}
}

// encodeChunk is magic + varint RLE, zstd compressed.
func encodeChunk(blocks []world.BlockData) []byte {
	raw := encoding.AppendRLE(append([]byte(nil), magic...), blocks)
	return zenc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decodeChunk(b []byte) ([]world.BlockData, error) {
	raw, err := zdec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if !bytes.HasPrefix(raw, magic) {
		return nil, fmt.Errorf("bad chunk magic")
	}
	out := make([]world.BlockData, world.ChunkVolume)
	if err := encoding.DecodeRLEInto(raw[len(magic):], out); err != nil {
		return nil, err
	}
	return out, nil
}
