package mapstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"blockd.dev/internal/sim/world"
)

// SQLite keeps chunks in a single table. Saves are queued and written by one
// goroutine in batched transactions; loads consult the queue first so a chunk
// evicted right after its save reads back the data just written.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan saveReq
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	mu      sync.Mutex
	pending map[world.ChunkKey]pendingSave
	gen     uint64

	writeErrors atomic.Uint64
}

type pendingSave struct {
	gen     uint64
	payload []byte
}

type saveReq struct {
	key     world.ChunkKey
	gen     uint64
	payload []byte
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db:      db,
		log:     logger.Named("mapstore"),
		ch:      make(chan saveReq, 4096),
		pending: map[world.ChunkKey]pendingSave{},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		cx INTEGER NOT NULL,
		cy INTEGER NOT NULL,
		cz INTEGER NOT NULL,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (cx, cy, cz)
	);`)
	return err
}

func (s *SQLite) LoadChunk(key world.ChunkKey) ([]world.BlockData, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	s.mu.Lock()
	p, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		blocks, err := decodeChunk(p.payload)
		return blocks, err == nil, err
	}

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM chunks WHERE cx=? AND cy=? AND cz=?`, key.CX, key.CY, key.CZ).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	blocks, err := decodeChunk(payload)
	if err != nil {
		return nil, false, fmt.Errorf("chunk %v: %w", key, err)
	}
	return blocks, true, nil
}

// SaveChunk queues the chunk. It blocks only when the writer is a full queue behind.
func (s *SQLite) SaveChunk(key world.ChunkKey, blocks []world.BlockData) error {
	if s.closed.Load() {
		return ErrClosed
	}
	payload := encodeChunk(blocks)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.pending[key] = pendingSave{gen: gen, payload: payload}
	s.mu.Unlock()
	s.ch <- saveReq{key: key, gen: gen, payload: payload}
	return nil
}

// WriteErrors counts rows the writer failed to persist.
func (s *SQLite) WriteErrors() uint64 { return s.writeErrors.Load() }

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) loop() {
	upsert, err := s.db.Prepare(`INSERT OR REPLACE INTO chunks(cx,cy,cz,payload,updated_at) VALUES(?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare upsert", zap.Error(err))
	}
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
	}()

	const batchMax = 256
	batch := make([]saveReq, 0, batchMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(upsert, batch); err != nil {
			s.writeErrors.Add(uint64(len(batch)))
			s.log.Error("write chunk batch", zap.Int("chunks", len(batch)), zap.Error(err))
		}
		s.mu.Lock()
		for _, r := range batch {
			if p, ok := s.pending[r.key]; ok && p.gen == r.gen {
				delete(s.pending, r.key)
			}
		}
		s.mu.Unlock()
		batch = batch[:0]
	}

	for r := range s.ch {
		batch = append(batch, r)
	drain:
		for len(batch) < batchMax {
			select {
			case next, ok := <-s.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		flush()
	}
}

func (s *SQLite) writeBatch(upsert *sql.Stmt, batch []saveReq) error {
	if upsert == nil {
		return fmt.Errorf("no prepared statement")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt := tx.Stmt(upsert)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range batch {
		if _, err := stmt.Exec(r.key.CX, r.key.CY, r.key.CZ, r.payload, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
