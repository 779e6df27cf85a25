// Package store is the sqlite-backed save sink (spec §6.3, SPEC_FULL.md
// §4.8): an adapter around gamemaster.Engine's io.Writer/io.Reader
// save/load contract, not a replacement for it. The engine itself knows
// nothing about sqlite; this package only gives the CLI a place to put
// the bytes Engine.Save produces and get them back for Engine.Load.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anthropics/gmengine/internal/logging"
)

// saver is the Save half of gamemaster.Engine's save/restore contract,
// declared here rather than importing the concrete type so this package
// has no compile-time dependency on gamemaster's internals beyond the
// one method it actually calls.
type saver interface {
	Save(w io.Writer) error
}

// loader is the Load half of the same contract.
type loader interface {
	Load(ctx context.Context, r io.Reader) error
}

// Store persists save documents (one row per named slot) in a SQLite
// database, reusing modernc.org/sqlite the way the teacher's
// internal/store package does for its own local database.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Boot("store: opened save database at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS engine_saves (
	slot       TEXT PRIMARY KEY,
	document   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEngine writes the engine's save document into the named slot,
// replacing whatever was there before.
func (s *Store) SaveEngine(ctx context.Context, slot string, e saver) error {
	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		return fmt.Errorf("store: save slot %q: %w", slot, err)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO engine_saves (slot, document, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		slot, buf.Bytes(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: write slot %q: %w", slot, err)
	}
	return nil
}

// LoadEngine reads the named slot's save document and hands it to the
// engine's Load method. Returns an error naming the slot if it was
// never saved.
func (s *Store) LoadEngine(ctx context.Context, slot string, e loader) error {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM engine_saves WHERE slot = ?`, slot).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: save slot %q not found", slot)
	}
	if err != nil {
		return fmt.Errorf("store: read slot %q: %w", slot, err)
	}

	if err := e.Load(ctx, bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("store: load slot %q: %w", slot, err)
	}
	return nil
}

// Slots lists every save slot present in the database.
func (s *Store) Slots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot FROM engine_saves ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list slots: %w", err)
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("store: scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}
