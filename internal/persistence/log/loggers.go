// Package log writes append-only JSONL records, zstd compressed and rotated hourly.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"blockd.dev/internal/sim/game"
)

var ErrClosed = errors.New("log writer closed")

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	closed  bool
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the current zstd frame.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AuditLogger records applied block edits. WriteAudit only enqueues, so the
// tick never waits on disk; entries are dropped when the queue is full.
type AuditLogger struct {
	w  *JSONLZstdWriter
	ch chan game.AuditEntry
	wg sync.WaitGroup

	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewAuditLogger(dataDir string, queue int) *AuditLogger {
	if queue <= 0 {
		queue = 4096
	}
	l := &AuditLogger{
		w:  NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit"),
		ch: make(chan game.AuditEntry, queue),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

func (l *AuditLogger) WriteAudit(e game.AuditEntry) error {
	if l == nil || l.closed.Load() {
		return ErrClosed
	}
	select {
	case l.ch <- e:
		return nil
	default:
		l.dropped.Add(1)
		return fmt.Errorf("audit queue full")
	}
}

func (l *AuditLogger) Dropped() uint64 { return l.dropped.Load() }
func (l *AuditLogger) Failed() uint64  { return l.failed.Load() }

func (l *AuditLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

func (l *AuditLogger) loop() {
	for e := range l.ch {
		if err := l.w.Write(e); err != nil {
			l.failed.Add(1)
			continue
		}
		if len(l.ch) == 0 {
			if err := l.w.Flush(); err != nil {
				l.failed.Add(1)
			}
		}
	}
}
