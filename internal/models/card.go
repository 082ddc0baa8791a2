// Package models defines the domain types shared by the parser, the
// reconciliation engine and the collection store.
package models

// RawBlock is one card as cut out of a source stream: segment 0 is the
// frontmatter, the remaining segments are field bodies.
type RawBlock []string

// Card is a parsed card ready for reconciliation.
// Fields[0] is always the identity key.
type Card struct {
	Model  string   `json:"model"`
	Fields []string `json:"fields"`
	Tags   *string  `json:"tags,omitempty"`
	// Source names the stream the card was parsed from; empty for hook output.
	Source string `json:"source,omitempty"`
}

// ID returns the identity key of the card.
func (c Card) ID() string {
	if len(c.Fields) == 0 {
		return ""
	}
	return c.Fields[0]
}

// TypeGroup holds every card of one deck that shares a model, in encounter order.
type TypeGroup struct {
	Model string `json:"model"`
	Cards []Card `json:"cards"`
}

// Deck is a named destination with its cards partitioned by model.
type Deck struct {
	Name   string      `json:"name"`
	Groups []TypeGroup `json:"groups"`
}

// CardCount returns the number of cards across all groups.
func (d Deck) CardCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Cards)
	}
	return n
}

// DeckResult reports how many records a run inserted and updated in one deck.
type DeckResult struct {
	Name    string `json:"name"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
}

// Changed reports whether the deck saw any write.
func (r DeckResult) Changed() bool {
	return r.Added != 0 || r.Updated != 0
}
