// Package apperr holds the sentinel errors and the typed errors surfaced by
// parsing and reconciliation.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ParseErrorKind classifies a ParseError.
type ParseErrorKind string

// Parse error kinds.
const (
	KindUnreadable     ParseErrorKind = "unreadable"
	KindEmpty          ParseErrorKind = "empty"
	KindBadFrontmatter ParseErrorKind = "bad_frontmatter"
	KindMissingID      ParseErrorKind = "missing_id"
	KindHook           ParseErrorKind = "hook"
)

// KindOf maps a card build failure to its kind. Anything that is not one of
// the card sentinels counts as unreadable input.
func KindOf(err error) ParseErrorKind {
	switch {
	case errors.Is(err, ErrEmptyBlock):
		return KindEmpty
	case errors.Is(err, ErrBadFrontmatter):
		return KindBadFrontmatter
	case errors.Is(err, ErrMissingID):
		return KindMissingID
	default:
		return KindUnreadable
	}
}

// ParseError is attributable to one input unit: a file, a hook stream or a
// block inside one of them.
type ParseError struct {
	Source string // file path or stream name; empty for hook output
	Block  int    // 1-based block position, 0 when the whole input failed
	Kind   ParseErrorKind
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Block > 0 {
		fmt.Fprintf(&b, "card %d: ", e.Block)
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors aggregates every parse failure of a batch.
type ParseErrors []*ParseError

func (es ParseErrors) Error() string {
	lines := make([]string, 0, len(es))
	for _, e := range es {
		lines = append(lines, source(e)+": "+e.Error())
	}
	return strings.Join(lines, "\n")
}

func (es ParseErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Lines returns one "source: error" line per failure.
func (es ParseErrors) Lines() []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, source(e)+": "+e.Error())
	}
	return out
}

func source(e *ParseError) string {
	if e.Source == "" {
		return "<hook>"
	}
	return e.Source
}

// maxListedSources caps how many inputs a ReconcileError names.
const maxListedSources = 3

// ReconcileError is attributable to one (deck, model) group. Sources, when
// set, names the inputs whose cards made up the group.
type ReconcileError struct {
	Deck    string
	Model   string
	Sources []string
	Err     error
}

func (e *ReconcileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deck %s", e.Deck)
	if e.Model != "" {
		fmt.Fprintf(&b, ", model %s", e.Model)
	}
	if len(e.Sources) > 0 {
		listed := e.Sources
		if len(listed) > maxListedSources {
			listed = listed[:maxListedSources]
		}
		fmt.Fprintf(&b, " (in %s", strings.Join(listed, ", "))
		if more := len(e.Sources) - len(listed); more > 0 {
			fmt.Fprintf(&b, " and %d more", more)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// TransactionError is returned after every deck was attempted and at least
// one failed. Nothing from the run was persisted.
type TransactionError struct {
	Failures []error
}

func (e *TransactionError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "\n")
}

// Unwrap exposes the per-deck failures to errors.Is / errors.As.
func (e *TransactionError) Unwrap() []error { return e.Failures }
