package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/checksum"
	"github.com/danisheto/anc/internal/models"
)

// firstFieldSQL extracts the identity field from the flds column.
const firstFieldSQL = `CASE WHEN instr(flds, char(31)) > 0
	THEN substr(flds, 1, instr(flds, char(31)) - 1) ELSE flds END`

// ResolveModel returns the id and declared field count of the named model.
func (c *Collection) ResolveModel(ctx context.Context, name string) (int64, int, error) {
	var (
		id    int64
		count int
	)
	err := c.conn.QueryRowContext(ctx, `
		SELECT n.id, count(f.ord)
		FROM notetypes n
		JOIN fields f ON f.ntid = n.id
		WHERE n.name = ? COLLATE NOCASE
		GROUP BY n.id
		LIMIT 1
	`, name).Scan(&id, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("collection: model %q: %w", name, apperr.ErrUnknownModel)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("collection: resolve model: %w", err)
	}
	return id, count, nil
}

// FindByIdentity returns the note whose first field equals key, or nil when
// there is none. Only the first match is considered.
func (c *Collection) FindByIdentity(ctx context.Context, key string) (*models.ExistingNote, error) {
	var row *sql.Row
	if c.caseInsensitive {
		row = c.conn.QueryRowContext(ctx,
			`SELECT id, flds, tags FROM notes
			 WHERE (`+firstFieldSQL+`) = ? COLLATE NOCASE
			 ORDER BY id LIMIT 1`, key)
	} else {
		row = c.conn.QueryRowContext(ctx,
			`SELECT id, flds, tags FROM notes
			 WHERE csum = ? AND (`+firstFieldSQL+`) = ?
			 ORDER BY id LIMIT 1`, checksum.Field(key), key)
	}

	var n models.ExistingNote
	err := row.Scan(&n.ID, &n.Fields, &n.Tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collection: find note: %w", err)
	}
	return &n, nil
}

// MaxRecordID returns the largest note id, or 0 for an empty collection.
func (c *Collection) MaxRecordID(ctx context.Context) (int64, error) {
	var id int64
	if err := c.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM notes`).Scan(&id); err != nil {
		return 0, fmt.Errorf("collection: max note id: %w", err)
	}
	return id, nil
}

// USN returns the collection's current update sequence number.
func (c *Collection) USN(ctx context.Context) (int64, error) {
	var usn int64
	if err := c.conn.QueryRowContext(ctx, `SELECT usn FROM col LIMIT 1`).Scan(&usn); err != nil {
		return 0, fmt.Errorf("collection: usn: %w", err)
	}
	return usn, nil
}

// InsertRecord inserts a note. A conflicting id or guid leaves the
// collection untouched and reports zero affected rows.
func (c *Collection) InsertRecord(ctx context.Context, r models.NewRecord) (int64, error) {
	res, err := c.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
	`, r.ID, r.GUID, r.ModelID, r.Mod, r.USN, r.Tags, r.Fields, r.Identity, checksum.Field(r.Identity))
	if err != nil {
		return 0, fmt.Errorf("collection: insert note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("collection: insert note: %w", err)
	}
	return n, nil
}

// UpdateRecord rewrites the fields and tags of an existing note.
func (c *Collection) UpdateRecord(ctx context.Context, u models.RecordUpdate) (int64, error) {
	res, err := c.conn.ExecContext(ctx, `
		UPDATE notes SET mod = ?, usn = ?, tags = ?, flds = ?, sfld = ?, csum = ?
		WHERE id = ?
	`, u.Mod, u.USN, u.Tags, u.Fields, u.Identity, checksum.Field(u.Identity), u.ID)
	if err != nil {
		return 0, fmt.Errorf("collection: update note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("collection: update note: %w", err)
	}
	return n, nil
}

// ResolveDeck returns the id of the named deck.
func (c *Collection) ResolveDeck(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.conn.QueryRowContext(ctx,
		`SELECT id FROM decks WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("collection: deck %q: %w", name, apperr.ErrUnknownDeck)
	}
	if err != nil {
		return 0, fmt.Errorf("collection: resolve deck: %w", err)
	}
	return id, nil
}

// DeckKind reports whether the deck is filtered, and its config otherwise.
func (c *Collection) DeckKind(ctx context.Context, deckID int64) (models.DeckKind, error) {
	var (
		kind   int
		confID int64
	)
	err := c.conn.QueryRowContext(ctx, `SELECT kind, conf_id FROM decks WHERE id = ?`, deckID).Scan(&kind, &confID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeckKind{}, fmt.Errorf("collection: deck %d: %w", deckID, apperr.ErrUnknownDeck)
	}
	if err != nil {
		return models.DeckKind{}, fmt.Errorf("collection: deck kind: %w", err)
	}
	if kind != 0 {
		return models.DeckKind{Filtered: true}, nil
	}
	return models.DeckKind{ConfigID: confID}, nil
}

func lastDeckKey(modelID int64) string {
	return "_nt_" + strconv.FormatInt(modelID, 10) + "_lastDeck"
}

// SetLastWriter records deckID as the deck the model last wrote to. Card
// generation places new cards of the model there.
func (c *Collection) SetLastWriter(ctx context.Context, modelID, deckID int64) error {
	val, err := json.Marshal(deckID)
	if err != nil {
		return fmt.Errorf("collection: encode last deck: %w", err)
	}
	usn, err := c.USN(ctx)
	if err != nil {
		return err
	}
	if _, err := c.conn.ExecContext(ctx, `
		INSERT INTO config (key, usn, mtime_secs, val) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			usn        = excluded.usn,
			mtime_secs = excluded.mtime_secs,
			val        = excluded.val
	`, lastDeckKey(modelID), usn, c.now().Unix(), val); err != nil {
		return fmt.Errorf("collection: set last deck: %w", err)
	}
	return nil
}

// lastWriter returns the deck recorded by SetLastWriter, falling back to the
// Default deck.
func (c *Collection) lastWriter(ctx context.Context, modelID int64) (int64, error) {
	var val []byte
	err := c.conn.QueryRowContext(ctx, `SELECT val FROM config WHERE key = ?`, lastDeckKey(modelID)).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return c.ResolveDeck(ctx, DefaultDeck)
	}
	if err != nil {
		return 0, fmt.Errorf("collection: last deck: %w", err)
	}
	var id int64
	if err := json.Unmarshal(val, &id); err != nil {
		return 0, fmt.Errorf("collection: decode last deck: %w", err)
	}
	return id, nil
}
