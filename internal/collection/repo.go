package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/danisheto/anc/internal/apperr"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	ID      int64
	GUID    string
	ModelID int64
	Mod     int64
	USN     int64
	Tags    string
	Fields  []string
}

// CardRow represents a row in the cards table.
type CardRow struct {
	ID     int64
	NoteID int64
	DeckID int64
	Ord    int
	Due    int64
}

// Note returns the note with the given id.
func (c *Collection) Note(ctx context.Context, id int64) (*NoteRow, error) {
	var (
		n    NoteRow
		flds string
	)
	err := c.conn.QueryRowContext(ctx,
		`SELECT id, guid, mid, mod, usn, tags, flds FROM notes WHERE id = ?`, id,
	).Scan(&n.ID, &n.GUID, &n.ModelID, &n.Mod, &n.USN, &n.Tags, &flds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("collection: get note: %w", err)
	}
	n.Fields = strings.Split(flds, FieldSeparator)
	return &n, nil
}

// NoteIDs returns every note id in ascending order.
func (c *Collection) NoteIDs(ctx context.Context) ([]int64, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("collection: note ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// NoteCount returns the number of notes in the collection.
func (c *Collection) NoteCount(ctx context.Context) (int, error) {
	var n int
	if err := c.conn.QueryRowContext(ctx, `SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("collection: count notes: %w", err)
	}
	return n, nil
}

// CardCount returns the number of cards in the named deck.
func (c *Collection) CardCount(ctx context.Context, deck string) (int, error) {
	var n int
	err := c.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM cards c
		JOIN decks d ON d.id = c.did
		WHERE d.name = ? COLLATE NOCASE
	`, deck).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("collection: count cards: %w", err)
	}
	return n, nil
}

// Cards returns the cards of a note ordered by template ordinal.
func (c *Collection) Cards(ctx context.Context, noteID int64) ([]CardRow, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT id, nid, did, ord, due FROM cards WHERE nid = ? ORDER BY ord`, noteID)
	if err != nil {
		return nil, fmt.Errorf("collection: list cards: %w", err)
	}
	defer rows.Close()

	var out []CardRow
	for rows.Next() {
		var r CardRow
		if err := rows.Scan(&r.ID, &r.NoteID, &r.DeckID, &r.Ord, &r.Due); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeckNames returns every deck name in id order.
func (c *Collection) DeckNames(ctx context.Context) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT name FROM decks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("collection: deck names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LastDeck returns the deck id recorded for a model by SetLastWriter.
func (c *Collection) LastDeck(ctx context.Context, modelID int64) (int64, error) {
	return c.lastWriter(ctx, modelID)
}
