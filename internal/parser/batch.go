package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
)

// Entry is a built card together with the deck it targets.
type Entry struct {
	Deck string
	Card models.Card
}

// Stream is one named input. Name is used to derive identity keys and to
// attribute errors; it is empty for anonymous streams such as hook output.
type Stream struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileStream returns a stream named name that reads path when parsed.
func FileStream(name, path string) Stream {
	return Stream{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("could not open %s: %w", name, err)
			}
			return f, nil
		},
	}
}

// StringStream returns a stream over an in-memory source.
func StringStream(name, content string) Stream {
	return ReaderStream(name, strings.NewReader(content))
}

// ReaderStream wraps an already open reader. The reader is consumed once.
func ReaderStream(name string, r io.Reader) Stream {
	return Stream{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
	}
}

// Batch parses a set of streams as one unit.
type Batch struct {
	streams []Stream
}

// NewBatch creates a batch over the given streams, parsed in order.
func NewBatch(streams ...Stream) *Batch {
	return &Batch{streams: streams}
}

// FromFiles creates a batch reading every path in order.
func FromFiles(paths []string) *Batch {
	streams := make([]Stream, 0, len(paths))
	for _, p := range paths {
		streams = append(streams, FileStream(p, p))
	}
	return NewBatch(streams...)
}

// Entries parses every stream and returns the built cards in encounter
// order. Failures from all streams are collected; when any exist the
// returned error is an apperr.ParseErrors and no entries are returned.
func (b *Batch) Entries() ([]Entry, error) {
	var (
		entries []Entry
		errs    apperr.ParseErrors
	)
	for _, s := range b.streams {
		got, streamErrs := parseStream(s)
		if len(streamErrs) > 0 {
			errs = append(errs, streamErrs...)
			continue
		}
		entries = append(entries, got...)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return entries, nil
}

// Parse parses every stream and groups the result by deck and model.
func (b *Batch) Parse() ([]models.Deck, error) {
	entries, err := b.Entries()
	if err != nil {
		return nil, err
	}
	return Group(entries), nil
}

func parseStream(s Stream) ([]Entry, apperr.ParseErrors) {
	rc, err := s.Open()
	if err != nil {
		return nil, apperr.ParseErrors{{Source: s.Name, Kind: apperr.KindUnreadable, Err: err}}
	}
	defer rc.Close()

	blocks, err := Split(rc)
	if err != nil {
		return nil, apperr.ParseErrors{{Source: s.Name, Kind: apperr.KindUnreadable, Err: err}}
	}

	var (
		entries []Entry
		errs    apperr.ParseErrors
	)
	for i, block := range blocks {
		deck, card, err := Build(block, s.Name, i+1)
		if err != nil {
			errs = append(errs, &apperr.ParseError{Source: s.Name, Block: i + 1, Kind: apperr.KindOf(err), Err: err})
			continue
		}
		card.Source = s.Name
		entries = append(entries, Entry{Deck: deck, Card: card})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return entries, nil
}

// Group partitions entries by deck and then by model. Decks and models keep
// the order in which they were first seen and cards keep encounter order.
func Group(entries []Entry) []models.Deck {
	var decks []models.Deck
	deckIdx := make(map[string]int)
	groupIdx := make(map[string]map[string]int)

	for _, e := range entries {
		di, ok := deckIdx[e.Deck]
		if !ok {
			di = len(decks)
			deckIdx[e.Deck] = di
			groupIdx[e.Deck] = make(map[string]int)
			decks = append(decks, models.Deck{Name: e.Deck})
		}

		d := &decks[di]
		gi, ok := groupIdx[e.Deck][e.Card.Model]
		if !ok {
			gi = len(d.Groups)
			groupIdx[e.Deck][e.Card.Model] = gi
			d.Groups = append(d.Groups, models.TypeGroup{Model: e.Card.Model})
		}
		d.Groups[gi].Cards = append(d.Groups[gi].Cards, e.Card)
	}
	return decks
}
