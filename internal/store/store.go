// Package store provides the SQLite-backed conversation memory: sessions,
// turns, summaries, their vector and full-text sidecars, and scheduled tasks.
//
// The FTS5 sidecars require mattn/go-sqlite3 to be compiled with the
// "fts5" build tag (the Makefile passes it); without it Open fails
// with "no such module: fts5".
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"github.com/xonecas/seele/internal/errs"
)

const schemaVersion = "2.0"

// schemaTemplate is instantiated with the embedding dimension. The vec0
// sidecars store one embedding per turn or summary row; the FTS5 sidecars
// mirror the text columns through triggers so keyword search never goes
// stale.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	start_timestamp INTEGER NOT NULL,
	end_timestamp   INTEGER,
	status          TEXT CHECK(status IN ('active', 'archived')) DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS conversations (
	conversation_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      INTEGER NOT NULL,
	timestamp       INTEGER NOT NULL,
	role            TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	text            TEXT NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp DESC);

CREATE TABLE IF NOT EXISTS summaries (
	summary_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id           INTEGER NOT NULL,
	summary              TEXT NOT NULL,
	first_timestamp      INTEGER NOT NULL,
	last_timestamp       INTEGER NOT NULL,
	last_conversation_id INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id);
CREATE INDEX IF NOT EXISTS idx_summaries_last_timestamp ON summaries(last_timestamp DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_conversations USING vec0(
	conversation_id INTEGER PRIMARY KEY,
	embedding float[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_summaries USING vec0(
	summary_id INTEGER PRIMARY KEY,
	embedding float[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_conversations USING fts5(
	conversation_id UNINDEXED,
	text,
	content=conversations,
	content_rowid=conversation_id
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_summaries USING fts5(
	summary_id UNINDEXED,
	summary,
	content=summaries,
	content_rowid=summary_id
);

CREATE TRIGGER IF NOT EXISTS conversations_ai AFTER INSERT ON conversations BEGIN
	INSERT INTO fts_conversations(rowid, conversation_id, text)
	VALUES (new.conversation_id, new.conversation_id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS conversations_ad AFTER DELETE ON conversations BEGIN
	INSERT INTO fts_conversations(fts_conversations, rowid, conversation_id, text)
	VALUES('delete', old.conversation_id, old.conversation_id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS conversations_au AFTER UPDATE ON conversations BEGIN
	INSERT INTO fts_conversations(fts_conversations, rowid, conversation_id, text)
	VALUES('delete', old.conversation_id, old.conversation_id, old.text);
	INSERT INTO fts_conversations(rowid, conversation_id, text)
	VALUES (new.conversation_id, new.conversation_id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS summaries_ai AFTER INSERT ON summaries BEGIN
	INSERT INTO fts_summaries(rowid, summary_id, summary)
	VALUES (new.summary_id, new.summary_id, new.summary);
END;

CREATE TRIGGER IF NOT EXISTS summaries_ad AFTER DELETE ON summaries BEGIN
	INSERT INTO fts_summaries(fts_summaries, rowid, summary_id, summary)
	VALUES('delete', old.summary_id, old.summary_id, old.summary);
END;

CREATE TRIGGER IF NOT EXISTS summaries_au AFTER UPDATE ON summaries BEGIN
	INSERT INTO fts_summaries(fts_summaries, rowid, summary_id, summary)
	VALUES('delete', old.summary_id, old.summary_id, old.summary);
	INSERT INTO fts_summaries(rowid, summary_id, summary)
	VALUES (new.summary_id, new.summary_id, new.summary);
END;

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	task_id        TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	trigger_type   TEXT NOT NULL CHECK(trigger_type IN ('once', 'interval')),
	trigger_config TEXT NOT NULL,
	message        TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	next_run_at    INTEGER NOT NULL,
	last_run_at    INTEGER,
	status         TEXT CHECK(status IN ('active', 'paused', 'completed')) DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_next_run ON scheduled_tasks(next_run_at, status);
`

// Store is the SQLite-backed memory store. All access is serialized
// through the mutex; SQLite handles one writer at a time anyway.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	dim int
}

// Open creates or opens the memory database at the given path. dim is the
// embedding dimension the vec sidecars are declared with; opening an
// existing database that was created with a different dimension fails,
// since stored embeddings would be incompatible with new queries.
func Open(dbPath string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, errs.Newf(errs.BadArgument, "embedding dimension must be positive, got %d", dim)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("open memory db: %w", err))
	}
	// A single connection keeps the vec extension and pragma state
	// consistent across every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("pragma %q: %w", pragma, err))
		}
	}

	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dim, dim)); err != nil {
		db.Close()
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("create schema: %w", err))
	}

	s := &Store{db: db, dim: dim}
	if err := s.checkMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkMeta records schema version and dimension on first open, and
// refuses to open a store that declares a version or dimension this
// build does not understand.
func (s *Store) checkMeta() error {
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion,
	); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("write schema version: %w", err))
	}
	var version string
	if err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("read schema version: %w", err))
	}
	if version != schemaVersion {
		return errs.Newf(errs.Conflict,
			"database declares schema version %s, this build understands %s", version, schemaVersion)
	}

	var stored string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'embedding_dimension'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(
			"INSERT INTO meta (key, value) VALUES ('embedding_dimension', ?)",
			strconv.Itoa(s.dim),
		)
		if err != nil {
			return errs.New(errs.StoreUnavailable, fmt.Errorf("write embedding dimension: %w", err))
		}
	case err != nil:
		return errs.New(errs.StoreUnavailable, fmt.Errorf("read embedding dimension: %w", err))
	default:
		if stored != strconv.Itoa(s.dim) {
			return errs.Newf(errs.Conflict,
				"database was created with embedding dimension %s, configured dimension is %d", stored, s.dim)
		}
	}
	return nil
}

// Dimension returns the embedding dimension the store was opened with.
func (s *Store) Dimension() int {
	return s.dim
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
