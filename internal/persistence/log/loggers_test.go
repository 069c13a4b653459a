package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"blockd.dev/internal/sim/game"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(1); err != ErrClosed {
		t.Fatalf("write after close: %v", err)
	}

	first := readLines(t, filepath.Join(dir, "x-2024-05-01-10.jsonl.zst"))
	second := readLines(t, filepath.Join(dir, "x-2024-05-01-11.jsonl.zst"))
	if len(first) != 1 || first[0] != `{"a":1}` {
		t.Fatalf("first hour: %q", first)
	}
	if len(second) != 1 || second[0] != `{"a":2}` {
		t.Fatalf("second hour: %q", second)
	}
}

func TestAuditLoggerWritesEntries(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir, 16)
	l.w.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	for i := 0; i < 3; i++ {
		if err := l.WriteAudit(game.AuditEntry{Tick: uint64(i + 1), Actor: "u", Pos: [3]int{i, 0, 0}, To: 0x10000}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.WriteAudit(game.AuditEntry{}); err == nil {
		t.Fatalf("expected error after close")
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("audit files: %v", matches)
	}
	lines := readLines(t, matches[0])
	if len(lines) != 3 {
		t.Fatalf("lines=%d", len(lines))
	}
	var e game.AuditEntry
	if err := json.Unmarshal([]byte(lines[2]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Tick != 3 || e.Pos != [3]int{2, 0, 0} || e.To != 0x10000 {
		t.Fatalf("entry: %+v", e)
	}
	if l.Dropped() != 0 || l.Failed() != 0 {
		t.Fatalf("dropped=%d failed=%d", l.Dropped(), l.Failed())
	}
}
