package collection

import (
	"context"
	"fmt"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
)

// ModelKind distinguishes standard note types from cloze note types.
type ModelKind int

const (
	ModelStandard ModelKind = iota
	ModelCloze
)

// Template is one card template of a model.
type Template struct {
	Name string
	Qfmt string
	Afmt string
}

// Model describes a note type to be added to the collection.
type Model struct {
	Name      string
	Kind      ModelKind
	Fields    []string
	Templates []Template
}

// BasicModel is the front/back note type seeded by Create.
var BasicModel = Model{
	Name:   "basic",
	Kind:   ModelStandard,
	Fields: []string{"Id", "Front", "Back"},
	Templates: []Template{{
		Name: "Card 1",
		Qfmt: "{{Front}}",
		Afmt: "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}",
	}},
}

// ClozeModel is the cloze deletion note type seeded by Create.
var ClozeModel = Model{
	Name:   "cloze",
	Kind:   ModelCloze,
	Fields: []string{"Id", "Text", "Back Extra"},
	Templates: []Template{{
		Name: "Cloze",
		Qfmt: "{{cloze:Text}}",
		Afmt: "{{cloze:Text}}<br>\n{{Back Extra}}",
	}},
}

// DefaultDeck is the deck every new collection starts with.
const DefaultDeck = "Default"

const defaultConfigID = 1

// Create initializes a new collection at path: the schema, the Default deck
// with its config, and the basic and cloze models.
func Create(path string, opts ...Option) (*Collection, error) {
	c, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.seed(context.Background()); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Collection) seed(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO col (id, mod, usn, next_pos) VALUES (1, ?, 0, 1)`,
		c.now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("collection: seed col: %w", err)
	}
	if _, err := c.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO deck_config (id, name, new_card_insert_order) VALUES (?, 'Default', ?)`,
		defaultConfigID, models.NewCardOrderDue,
	); err != nil {
		return fmt.Errorf("collection: seed deck config: %w", err)
	}
	if _, err := c.AddDeck(ctx, DefaultDeck); err != nil {
		return err
	}
	for _, m := range []Model{BasicModel, ClozeModel} {
		if _, err := c.AddModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// AddDeck creates a normal deck using the default deck config and returns its id.
func (c *Collection) AddDeck(ctx context.Context, name string) (int64, error) {
	return c.addDeck(ctx, name, 0)
}

// AddFilteredDeck creates a filtered deck and returns its id.
func (c *Collection) AddFilteredDeck(ctx context.Context, name string) (int64, error) {
	return c.addDeck(ctx, name, 1)
}

func (c *Collection) addDeck(ctx context.Context, name string, kind int) (int64, error) {
	res, err := c.conn.ExecContext(ctx,
		`INSERT INTO decks (id, name, kind, conf_id)
		 VALUES ((SELECT COALESCE(MAX(id), 0) + 1 FROM decks), ?, ?, ?)`,
		name, kind, defaultConfigID,
	)
	if err != nil {
		return 0, fmt.Errorf("collection: add deck %q: %w", name, err)
	}
	return res.LastInsertId()
}

// AddModel creates a note type with its fields and templates and returns its id.
func (c *Collection) AddModel(ctx context.Context, m Model) (int64, error) {
	res, err := c.conn.ExecContext(ctx,
		`INSERT INTO notetypes (id, name, kind)
		 VALUES ((SELECT COALESCE(MAX(id), 0) + 1 FROM notetypes), ?, ?)`,
		m.Name, m.Kind,
	)
	if err != nil {
		return 0, fmt.Errorf("collection: add model %q: %w", m.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("collection: add model %q: %w", m.Name, err)
	}
	for ord, name := range m.Fields {
		if _, err := c.conn.ExecContext(ctx,
			`INSERT INTO fields (ntid, ord, name) VALUES (?, ?, ?)`, id, ord, name,
		); err != nil {
			return 0, fmt.Errorf("collection: add field %q: %w", name, err)
		}
	}
	for ord, t := range m.Templates {
		if _, err := c.conn.ExecContext(ctx,
			`INSERT INTO templates (ntid, ord, name, qfmt, afmt) VALUES (?, ?, ?, ?, ?)`,
			id, ord, t.Name, t.Qfmt, t.Afmt,
		); err != nil {
			return 0, fmt.Errorf("collection: add template %q: %w", t.Name, err)
		}
	}
	return id, nil
}

// SetInsertOrder changes the new-card insertion order of the config used by
// the named deck.
func (c *Collection) SetInsertOrder(ctx context.Context, deck string, order models.NewCardOrder) error {
	res, err := c.conn.ExecContext(ctx,
		`UPDATE deck_config SET new_card_insert_order = ?
		 WHERE id = (SELECT conf_id FROM decks WHERE name = ? COLLATE NOCASE AND kind = 0)`,
		order, deck,
	)
	if err != nil {
		return fmt.Errorf("collection: set insert order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("collection: set insert order %q: %w", deck, apperr.ErrUnknownDeck)
	}
	return nil
}
