package mapstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"blockd.dev/internal/sim/world"
)

// Dir stores each chunk as <root>/<cy>/<cx>.<cz>.chunk.zst, written via a temp file
// and rename so a crash never leaves a torn chunk.
type Dir struct {
	root string
}

func OpenDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("empty map directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key world.ChunkKey) string {
	return filepath.Join(d.root, fmt.Sprintf("%d", key.CY), fmt.Sprintf("%d.%d.chunk.zst", key.CX, key.CZ))
}

func (d *Dir) LoadChunk(key world.ChunkKey) ([]world.BlockData, bool, error) {
	b, err := os.ReadFile(d.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	blocks, err := decodeChunk(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", d.path(key), err)
	}
	return blocks, true, nil
}

func (d *Dir) SaveChunk(key world.ChunkKey, blocks []world.BlockData) error {
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".chunk-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(encodeChunk(blocks)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (d *Dir) Close() error { return nil }
