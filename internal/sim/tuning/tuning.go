package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"blockd.dev/internal/logging"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int        `yaml:"tick_rate_hz"`
	SpawnPos       [3]float64 `yaml:"spawn_pos"`
	ViewRadius     int        `yaml:"view_radius"` // chunks
	HeightChunks   int        `yaml:"height_chunks"`
	SaveEveryTicks int        `yaml:"save_every_ticks"`

	Terrain  Terrain   `yaml:"terrain"`
	Movement Movement  `yaml:"movement"`
	Stream   Stream    `yaml:"stream"`
	Session  Session   `yaml:"session"`
	Chat     Chat      `yaml:"chat"`
	MapStore MapStore  `yaml:"map_store"`
	Browser  Discovery `yaml:"discovery"`

	Logging logging.Config `yaml:"logging"`
}

// Terrain describes the flat generator used for chunks the map store does not have.
// Layers are stacked from y=0 upward.
type Terrain struct {
	Layers []Layer `yaml:"layers"`
}

type Layer struct {
	Block  string `yaml:"block"`
	Height int    `yaml:"height"`
}

type Movement struct {
	WalkSpeed     float64 `yaml:"walk_speed"`     // blocks per second
	MaxCommandDt  float64 `yaml:"max_command_dt"` // seconds
	MaxQueueDepth int     `yaml:"max_queue_depth"`
}

type Stream struct {
	ChunksPerSec    float64 `yaml:"chunks_per_sec"`
	Burst           int     `yaml:"burst"`
	CacheMaxBytes   int64   `yaml:"cache_max_bytes"`
	CacheNumCounter int64   `yaml:"cache_num_counters"`
}

type Session struct {
	MaxPlayers       int     `yaml:"max_players"`
	SendQueue        int     `yaml:"send_queue"`
	MaxEventsPerPoll int     `yaml:"max_events_per_poll"`
	InboundPerSec    float64 `yaml:"inbound_per_sec"`
	InboundBurst     int     `yaml:"inbound_burst"`
}

type Chat struct {
	DefaultChannel string `yaml:"default_channel"`
	MaxLen         int    `yaml:"max_len"`
}

type MapStore struct {
	Kind string `yaml:"kind"` // memory|dir|sqlite
	Path string `yaml:"path"`
}

type Discovery struct {
	Endpoint        string `yaml:"endpoint"`
	ServerName      string `yaml:"server_name"`
	PublicAddr      string `yaml:"public_addr"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

func Default() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		SpawnPos:        [3]float64{0, 80, 0},
		ViewRadius:      4,
		HeightChunks:    8,
		SaveEveryTicks:  600,
		Terrain: Terrain{Layers: []Layer{
			{Block: "BEDROCK", Height: 1},
			{Block: "STONE", Height: 59},
			{Block: "DIRT", Height: 3},
			{Block: "GRASS", Height: 1},
		}},
		Movement: Movement{WalkSpeed: 4.3, MaxCommandDt: 0.25, MaxQueueDepth: 128},
		Stream:   Stream{ChunksPerSec: 400, Burst: 64, CacheMaxBytes: 64 << 20, CacheNumCounter: 100_000},
		Session:  Session{MaxPlayers: 64, SendQueue: 1024, MaxEventsPerPoll: 4096, InboundPerSec: 60, InboundBurst: 120},
		Chat:     Chat{DefaultChannel: "global", MaxLen: 256},
		MapStore: MapStore{Kind: "memory"},
		Browser:  Discovery{ServerName: "blockd", IntervalSeconds: 30},
		Logging:  logging.Config{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file on top of Default(). A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Default()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values left behind by a partial YAML document.
func (t *Tuning) Normalize() {
	d := Default()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ViewRadius <= 0 {
		t.ViewRadius = d.ViewRadius
	}
	if t.HeightChunks <= 0 {
		t.HeightChunks = d.HeightChunks
	}
	if t.SaveEveryTicks <= 0 {
		t.SaveEveryTicks = d.SaveEveryTicks
	}
	if t.Movement.WalkSpeed <= 0 {
		t.Movement.WalkSpeed = d.Movement.WalkSpeed
	}
	if t.Movement.MaxCommandDt <= 0 {
		t.Movement.MaxCommandDt = d.Movement.MaxCommandDt
	}
	if t.Movement.MaxQueueDepth <= 0 {
		t.Movement.MaxQueueDepth = d.Movement.MaxQueueDepth
	}
	if t.Stream.ChunksPerSec <= 0 {
		t.Stream.ChunksPerSec = d.Stream.ChunksPerSec
	}
	if t.Stream.Burst <= 0 {
		t.Stream.Burst = d.Stream.Burst
	}
	if t.Stream.CacheMaxBytes <= 0 {
		t.Stream.CacheMaxBytes = d.Stream.CacheMaxBytes
	}
	if t.Stream.CacheNumCounter <= 0 {
		t.Stream.CacheNumCounter = d.Stream.CacheNumCounter
	}
	if t.Session.MaxPlayers <= 0 {
		t.Session.MaxPlayers = d.Session.MaxPlayers
	}
	if t.Session.MaxPlayers > 255 {
		// Wire ids are one byte and 0xFF means "no owner".
		t.Session.MaxPlayers = 255
	}
	if t.Session.SendQueue <= 0 {
		t.Session.SendQueue = d.Session.SendQueue
	}
	if t.Session.MaxEventsPerPoll <= 0 {
		t.Session.MaxEventsPerPoll = d.Session.MaxEventsPerPoll
	}
	if t.Session.InboundPerSec <= 0 {
		t.Session.InboundPerSec = d.Session.InboundPerSec
	}
	if t.Session.InboundBurst <= 0 {
		t.Session.InboundBurst = d.Session.InboundBurst
	}
	t.Chat.DefaultChannel = strings.TrimSpace(t.Chat.DefaultChannel)
	if t.Chat.DefaultChannel == "" {
		t.Chat.DefaultChannel = d.Chat.DefaultChannel
	}
	if t.Chat.MaxLen <= 0 {
		t.Chat.MaxLen = d.Chat.MaxLen
	}
	t.MapStore.Kind = strings.ToLower(strings.TrimSpace(t.MapStore.Kind))
	if t.MapStore.Kind == "" {
		t.MapStore.Kind = d.MapStore.Kind
	}
	if t.Browser.IntervalSeconds <= 0 {
		t.Browser.IntervalSeconds = d.Browser.IntervalSeconds
	}
	if strings.TrimSpace(t.Browser.ServerName) == "" {
		t.Browser.ServerName = d.Browser.ServerName
	}
}

func (t Tuning) Validate() error {
	switch t.MapStore.Kind {
	case "memory":
	case "dir", "sqlite":
		if strings.TrimSpace(t.MapStore.Path) == "" {
			return fmt.Errorf("map_store.path required for kind %q", t.MapStore.Kind)
		}
	default:
		return fmt.Errorf("unknown map_store.kind %q", t.MapStore.Kind)
	}
	total := 0
	for i, l := range t.Terrain.Layers {
		if l.Block == "" || l.Height <= 0 {
			return fmt.Errorf("terrain.layers[%d]: block and positive height required", i)
		}
		total += l.Height
	}
	if total > t.HeightChunks*16 {
		return fmt.Errorf("terrain layers (%d) exceed world height (%d)", total, t.HeightChunks*16)
	}
	if t.SpawnPos[1] < 0 || t.SpawnPos[1] >= float64(t.HeightChunks*16) {
		return fmt.Errorf("spawn_pos y=%v outside world height", t.SpawnPos[1])
	}
	return nil
}
