package models

// ExistingNote is a note already present in the collection.
type ExistingNote struct {
	ID     int64
	Fields string // encoded field blob
	Tags   string // encoded tag string
}

// NewRecord carries everything needed to insert a note.
type NewRecord struct {
	ID       int64
	GUID     string
	ModelID  int64
	Mod      int64
	USN      int64
	Tags     string
	Fields   string
	Identity string
}

// RecordUpdate carries the columns rewritten when a note changes.
type RecordUpdate struct {
	ID       int64
	Mod      int64
	USN      int64
	Tags     string
	Fields   string
	Identity string
}

// DeckKind describes whether a deck is a normal deck (with a config) or a
// filtered one.
type DeckKind struct {
	Filtered bool
	ConfigID int64
}

// NewCardOrder is the insertion order policy of a deck config.
type NewCardOrder int

// Insertion orders.
const (
	NewCardOrderDue NewCardOrder = iota
	NewCardOrderRandom
)
