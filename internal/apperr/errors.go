package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidPath   = errors.New("invalid path")

	ErrEmptyBlock     = errors.New("empty card")
	ErrBadFrontmatter = errors.New("error parsing frontmatter")
	ErrMissingID      = errors.New("an id is required as part of the frontmatter")

	ErrUnknownModel = errors.New("unknown model")
	ErrUnknownDeck  = errors.New("unknown deck")
	ErrFilteredDeck = errors.New("filtered deck")
	ErrNoCards      = errors.New("note would produce no cards")

	ErrNoProject = errors.New("not an anc directory, initialize first")
	ErrNoAnkiDir = errors.New("set anki_dir in .anc/config or set $ANKI_DIR")
)
