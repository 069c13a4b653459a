package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BlockRegistry is the set of block types the server accepts in block edits.
// Type 0 is AIR and is always present.
type BlockRegistry struct {
	Palette []BlockDef // sorted by Type
	ByType  map[uint16]BlockDef
	Index   map[string]uint16

	Digest string
}

type BlockDef struct {
	ID    string `json:"id"`
	Type  uint16 `json:"type"`
	Solid bool   `json:"solid"`
}

const AirID = "AIR"

// Has is the membership test used by the block pipeline.
func (r *BlockRegistry) Has(t uint16) bool {
	if r == nil {
		return t == 0
	}
	_, ok := r.ByType[t]
	return ok
}

// TypeOf returns the numeric type for a block id, e.g. "STONE".
func (r *BlockRegistry) TypeOf(id string) (uint16, bool) {
	if r == nil {
		return 0, false
	}
	t, ok := r.Index[id]
	return t, ok
}

func (r *BlockRegistry) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Palette)
}

// Load reads configDir/blocks.json.
func Load(configDir string) (*BlockRegistry, error) {
	path := filepath.Join(configDir, "blocks.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	r, err := NewBlockRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	return r, nil
}

func NewBlockRegistry(defs []BlockDef) (*BlockRegistry, error) {
	r := &BlockRegistry{
		ByType: map[uint16]BlockDef{},
		Index:  map[string]uint16{},
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id")
		}
		if d.Type == 0 && d.ID != AirID {
			return nil, fmt.Errorf("%s: type 0 is reserved for %s", d.ID, AirID)
		}
		if prev, ok := r.ByType[d.Type]; ok {
			return nil, fmt.Errorf("%s: type %d already used by %s", d.ID, d.Type, prev.ID)
		}
		if _, ok := r.Index[d.ID]; ok {
			return nil, fmt.Errorf("duplicate id %s", d.ID)
		}
		r.ByType[d.Type] = d
		r.Index[d.ID] = d.Type
	}
	if _, ok := r.ByType[0]; !ok {
		air := BlockDef{ID: AirID}
		r.ByType[0] = air
		r.Index[AirID] = 0
	}

	r.Palette = make([]BlockDef, 0, len(r.ByType))
	for _, d := range r.ByType {
		r.Palette = append(r.Palette, d)
	}
	sort.Slice(r.Palette, func(i, j int) bool { return r.Palette[i].Type < r.Palette[j].Type })

	palJSON, _ := json.Marshal(r.Palette)
	sum := sha256.Sum256(palJSON)
	r.Digest = hex.EncodeToString(sum[:])
	return r, nil
}

// Default is the built-in palette used when no configs directory is given.
func Default() *BlockRegistry {
	r, err := NewBlockRegistry([]BlockDef{
		{ID: "STONE", Type: 1, Solid: true},
		{ID: "DIRT", Type: 2, Solid: true},
		{ID: "GRASS", Type: 3, Solid: true},
		{ID: "SAND", Type: 4, Solid: true},
		{ID: "WATER", Type: 5},
		{ID: "LOG", Type: 6, Solid: true},
		{ID: "LEAVES", Type: 7, Solid: true},
		{ID: "PLANKS", Type: 8, Solid: true},
		{ID: "GLASS", Type: 9, Solid: true},
		{ID: "BEDROCK", Type: 10, Solid: true},
	})
	if err != nil {
		panic(err)
	}
	return r
}
