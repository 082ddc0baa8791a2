// Package collection is the SQLite-backed card collection the reconciler
// writes into. It speaks a subset of the Anki collection schema: notes,
// cards, decks, deck configs, note types with their fields and templates,
// and the key/value config table.
package collection

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danisheto/anc/internal/reconcile"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS col (
	id       INTEGER PRIMARY KEY,
	mod      INTEGER NOT NULL DEFAULT 0,
	usn      INTEGER NOT NULL DEFAULT 0,
	next_pos INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS notetypes (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	kind INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fields (
	ntid INTEGER NOT NULL,
	ord  INTEGER NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (ntid, ord)
);

CREATE TABLE IF NOT EXISTS templates (
	ntid INTEGER NOT NULL,
	ord  INTEGER NOT NULL,
	name TEXT NOT NULL,
	qfmt TEXT NOT NULL DEFAULT '',
	afmt TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (ntid, ord)
);

CREATE TABLE IF NOT EXISTS notes (
	id    INTEGER PRIMARY KEY,
	guid  TEXT NOT NULL,
	mid   INTEGER NOT NULL,
	mod   INTEGER NOT NULL,
	usn   INTEGER NOT NULL,
	tags  TEXT NOT NULL,
	flds  TEXT NOT NULL,
	sfld  TEXT NOT NULL,
	csum  INTEGER NOT NULL,
	flags INTEGER NOT NULL DEFAULT 0,
	data  TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_guid ON notes(guid);
CREATE INDEX IF NOT EXISTS idx_notes_csum ON notes(csum);

CREATE TABLE IF NOT EXISTS cards (
	id    INTEGER PRIMARY KEY,
	nid   INTEGER NOT NULL,
	did   INTEGER NOT NULL,
	ord   INTEGER NOT NULL,
	mod   INTEGER NOT NULL,
	usn   INTEGER NOT NULL,
	type  INTEGER NOT NULL DEFAULT 0,
	queue INTEGER NOT NULL DEFAULT 0,
	due   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (nid, ord)
);

CREATE INDEX IF NOT EXISTS idx_cards_did ON cards(did);

CREATE TABLE IF NOT EXISTS decks (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL UNIQUE,
	kind    INTEGER NOT NULL DEFAULT 0,
	conf_id INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS deck_config (
	id                    INTEGER PRIMARY KEY,
	name                  TEXT NOT NULL,
	new_card_insert_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS config (
	key        TEXT PRIMARY KEY,
	usn        INTEGER NOT NULL,
	mtime_secs INTEGER NOT NULL,
	val        BLOB NOT NULL
);
`

// FieldSeparator joins the fields of a note in the flds column.
const FieldSeparator = "\x1f"

// savepointName is the savepoint wrapping one reconciliation run.
const savepointName = "anc"

// Collection is an open card collection. All statements run on a single
// pinned connection so the run's savepoint covers every write.
type Collection struct {
	db   *sql.DB
	conn *sql.Conn
	path string

	caseInsensitive bool
	now             func() time.Time
	rng             *rand.Rand
}

// Verify *Collection satisfies reconcile.Store at compile time.
var _ reconcile.Store = (*Collection)(nil)

// Option configures a Collection.
type Option func(*Collection)

// WithCaseInsensitiveMatch makes identity lookups ignore ASCII case.
func WithCaseInsensitiveMatch() Option {
	return func(c *Collection) {
		c.caseInsensitive = true
	}
}

// WithClock overrides the clock used for modification timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) {
		c.now = now
	}
}

// WithRand sets the source used when shuffling new cards.
func WithRand(r *rand.Rand) Option {
	return func(c *Collection) {
		c.rng = r
	}
}

// Open opens an existing collection file. The schema is applied
// idempotently so a fresh file becomes an empty, unseeded collection; use
// Create for a usable collection with default decks and models.
func Open(path string, opts ...Option) (*Collection, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("collection: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("collection: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("collection: apply schema: %w", err)
	}

	pinned, err := conn.Conn(context.Background())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("collection: pin connection: %w", err)
	}

	c := &Collection{
		db:   conn,
		conn: pinned,
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(uint64(c.now().UnixNano()), 0))
	}
	return c, nil
}

// Path returns the file the collection was opened from.
func (c *Collection) Path() string {
	return c.path
}

// Close releases the pinned connection and closes the database.
func (c *Collection) Close() error {
	if err := c.conn.Close(); err != nil {
		c.db.Close()
		return fmt.Errorf("collection: close conn: %w", err)
	}
	return c.db.Close()
}

// BeginSavepoint opens the run's savepoint.
func (c *Collection) BeginSavepoint(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("collection: savepoint: %w", err)
	}
	return nil
}

// Commit releases the savepoint, making every write since BeginSavepoint
// durable.
func (c *Collection) Commit(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "RELEASE "+savepointName); err != nil {
		return fmt.Errorf("collection: release: %w", err)
	}
	return nil
}

// Rollback undoes every write since BeginSavepoint and closes the savepoint.
func (c *Collection) Rollback(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "ROLLBACK TO "+savepointName); err != nil {
		return fmt.Errorf("collection: rollback: %w", err)
	}
	if _, err := c.conn.ExecContext(ctx, "RELEASE "+savepointName); err != nil {
		return fmt.Errorf("collection: release after rollback: %w", err)
	}
	return nil
}
