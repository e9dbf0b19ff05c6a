package rtdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore is a MemoryStore whose tree survives restarts: the full tree
// is written as a single JSON document after every mutation. Fine for the
// data volumes of a per-deployment chat backend; not a concurrency layer,
// all reads still go through memory.
type SQLiteStore struct {
	*MemoryStore
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLiteStore opens (or creates) the database file and loads the
// persisted tree into memory.
func OpenSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tree (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}

	mem := NewMemoryStore()
	var doc string
	err = db.QueryRow(`SELECT doc FROM tree WHERE id = 1`).Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
		// fresh database
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("load sqlite store: %w", err)
	default:
		var root map[string]any
		if err := json.Unmarshal([]byte(doc), &root); err != nil {
			db.Close()
			return nil, fmt.Errorf("decode persisted tree: %w", err)
		}
		if root != nil {
			mem.root = root
		}
	}

	s := &SQLiteStore{
		MemoryStore: mem,
		db:          db,
		log:         log.With().Str("component", "sqlite").Logger(),
	}
	mem.onMutate = s.persist
	return s, nil
}

// persist is best effort: the in-memory tree stays authoritative, but a
// write that cannot reach disk is loud, not silent.
func (s *SQLiteStore) persist(root map[string]any) {
	doc, err := json.Marshal(root)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode tree for persistence")
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO tree (id, doc) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
		string(doc),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to persist tree")
	}
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
