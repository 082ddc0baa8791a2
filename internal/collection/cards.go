package collection

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
)

var (
	fieldRefRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	clozeRe    = regexp.MustCompile(`\{\{c(\d+)::`)
)

type noteType struct {
	kind      ModelKind
	fields    []string
	templates []Template
}

func (c *Collection) loadNoteType(ctx context.Context, id int64) (*noteType, error) {
	nt := &noteType{}
	if err := c.conn.QueryRowContext(ctx, `SELECT kind FROM notetypes WHERE id = ?`, id).Scan(&nt.kind); err != nil {
		return nil, fmt.Errorf("collection: load model %d: %w", id, err)
	}

	rows, err := c.conn.QueryContext(ctx, `SELECT name FROM fields WHERE ntid = ? ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("collection: load fields: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		nt.fields = append(nt.fields, name)
	}
	rows.Close()

	rows, err = c.conn.QueryContext(ctx, `SELECT name, qfmt, afmt FROM templates WHERE ntid = ? ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("collection: load templates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.Name, &t.Qfmt, &t.Afmt); err != nil {
			return nil, err
		}
		nt.templates = append(nt.templates, t)
	}
	return nt, rows.Err()
}

// referencedFields returns the field names a template substitutes, without
// section markers, filters or the FrontSide pseudo-field.
func referencedFields(tmpl string) []string {
	var out []string
	for _, m := range fieldRefRe.FindAllStringSubmatch(tmpl, -1) {
		ref := strings.TrimSpace(m[1])
		if ref == "" || strings.ContainsAny(ref[:1], "#/^!") {
			continue
		}
		if i := strings.LastIndex(ref, ":"); i >= 0 {
			ref = strings.TrimSpace(ref[i+1:])
		}
		if ref == "FrontSide" {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// clozeField returns the field a cloze template deletes from.
func clozeField(tmpl string) string {
	for _, m := range fieldRefRe.FindAllStringSubmatch(tmpl, -1) {
		if name, ok := strings.CutPrefix(strings.TrimSpace(m[1]), "cloze:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// cardOrdinals returns the template ordinals a note with the given fields
// produces cards for.
func (nt *noteType) cardOrdinals(values []string) []int {
	byName := make(map[string]string, len(nt.fields))
	for i, name := range nt.fields {
		if i < len(values) {
			byName[name] = values[i]
		}
	}

	if nt.kind == ModelCloze {
		if len(nt.templates) == 0 {
			return nil
		}
		text := byName[clozeField(nt.templates[0].Qfmt)]
		var ords []int
		for _, m := range clozeRe.FindAllStringSubmatch(text, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				continue
			}
			if !slices.Contains(ords, n-1) {
				ords = append(ords, n-1)
			}
		}
		slices.Sort(ords)
		return ords
	}

	var ords []int
	for ord, t := range nt.templates {
		refs := append(referencedFields(t.Qfmt), referencedFields(t.Afmt)...)
		if len(refs) == 0 {
			continue
		}
		ok := true
		for _, ref := range refs {
			v, known := byName[ref]
			if known && strings.TrimSpace(v) == "" {
				ok = false
				break
			}
		}
		if ok {
			ords = append(ords, ord)
		}
	}
	return ords
}

// NotifyChanged generates the cards the given notes are missing. New cards
// go to the deck their model last wrote to and are queued after every
// existing new card. A note that produces no card at all is an error.
func (c *Collection) NotifyChanged(ctx context.Context, noteIDs []int64) error {
	if len(noteIDs) == 0 {
		return nil
	}
	usn, err := c.USN(ctx)
	if err != nil {
		return err
	}
	types := make(map[int64]*noteType)

	for _, nid := range noteIDs {
		var (
			mid  int64
			flds string
		)
		if err := c.conn.QueryRowContext(ctx, `SELECT mid, flds FROM notes WHERE id = ?`, nid).Scan(&mid, &flds); err != nil {
			return fmt.Errorf("collection: load note %d: %w", nid, err)
		}
		nt, ok := types[mid]
		if !ok {
			if nt, err = c.loadNoteType(ctx, mid); err != nil {
				return err
			}
			types[mid] = nt
		}

		values := strings.Split(flds, FieldSeparator)
		ords := nt.cardOrdinals(values)
		if len(ords) == 0 {
			return fmt.Errorf("collection: note %q: %w", values[0], apperr.ErrNoCards)
		}
		if err := c.addMissingCards(ctx, nid, mid, ords, usn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) addMissingCards(ctx context.Context, nid, mid int64, ords []int, usn int64) error {
	existing := make(map[int]bool)
	rows, err := c.conn.QueryContext(ctx, `SELECT ord FROM cards WHERE nid = ?`, nid)
	if err != nil {
		return fmt.Errorf("collection: list cards: %w", err)
	}
	for rows.Next() {
		var ord int
		if err := rows.Scan(&ord); err != nil {
			rows.Close()
			return err
		}
		existing[ord] = true
	}
	rows.Close()

	var missing []int
	for _, ord := range ords {
		if !existing[ord] {
			missing = append(missing, ord)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	did, err := c.lastWriter(ctx, mid)
	if err != nil {
		return err
	}
	due, err := c.nextPosition(ctx)
	if err != nil {
		return err
	}
	id, err := c.nextCardID(ctx)
	if err != nil {
		return err
	}
	mod := c.now().Unix()
	for _, ord := range missing {
		if _, err := c.conn.ExecContext(ctx, `
			INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		`, id, nid, did, ord, mod, usn, due); err != nil {
			return fmt.Errorf("collection: insert card: %w", err)
		}
		id++
	}
	return nil
}

// nextPosition reserves the next new-card queue position.
func (c *Collection) nextPosition(ctx context.Context) (int64, error) {
	var pos int64
	if err := c.conn.QueryRowContext(ctx, `SELECT next_pos FROM col LIMIT 1`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("collection: next position: %w", err)
	}
	if _, err := c.conn.ExecContext(ctx, `UPDATE col SET next_pos = next_pos + 1`); err != nil {
		return 0, fmt.Errorf("collection: advance position: %w", err)
	}
	return pos, nil
}

func (c *Collection) nextCardID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := c.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM cards`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("collection: max card id: %w", err)
	}
	if now := c.now().UnixMilli(); maxID < now {
		return now, nil
	}
	return maxID + 1, nil
}

// ResortIfRandom shuffles the queue positions of the deck's new cards when
// its config inserts new cards in random order. Cards of one note keep a
// shared position.
func (c *Collection) ResortIfRandom(ctx context.Context, deckID int64) error {
	kind, err := c.DeckKind(ctx, deckID)
	if err != nil {
		return err
	}
	if kind.Filtered {
		return fmt.Errorf("collection: resort deck %d: %w", deckID, apperr.ErrFilteredDeck)
	}

	var order models.NewCardOrder
	if err := c.conn.QueryRowContext(ctx,
		`SELECT new_card_insert_order FROM deck_config WHERE id = ?`, kind.ConfigID,
	).Scan(&order); err != nil {
		return fmt.Errorf("collection: deck config %d: %w", kind.ConfigID, err)
	}
	if order != models.NewCardOrderRandom {
		return nil
	}

	rows, err := c.conn.QueryContext(ctx, `
		SELECT nid, MIN(due) FROM cards
		WHERE did = ? AND queue = 0 AND type = 0
		GROUP BY nid ORDER BY MIN(due), nid
	`, deckID)
	if err != nil {
		return fmt.Errorf("collection: list new cards: %w", err)
	}
	var (
		nids []int64
		dues []int64
	)
	for rows.Next() {
		var nid, due int64
		if err := rows.Scan(&nid, &due); err != nil {
			rows.Close()
			return err
		}
		nids = append(nids, nid)
		dues = append(dues, due)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	c.rng.Shuffle(len(nids), func(i, j int) { nids[i], nids[j] = nids[j], nids[i] })

	usn, err := c.USN(ctx)
	if err != nil {
		return err
	}
	mod := c.now().Unix()
	for i, nid := range nids {
		if _, err := c.conn.ExecContext(ctx, `
			UPDATE cards SET due = ?, mod = ?, usn = ?
			WHERE nid = ? AND did = ? AND queue = 0 AND type = 0
		`, dues[i], mod, usn, nid, deckID); err != nil {
			return fmt.Errorf("collection: resort card: %w", err)
		}
	}
	return nil
}
