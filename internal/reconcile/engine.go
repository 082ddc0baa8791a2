// Package reconcile brings a card collection in line with a parsed batch of
// decks. New cards are inserted, changed cards are updated and identical
// cards are left alone. A whole batch is applied inside one savepoint and
// either every deck lands or none does.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
)

// FieldSeparator joins the fields of a note into one blob.
const FieldSeparator = "\x1f"

// Store is the collection the engine reconciles against. Every call of one
// Apply happens between BeginSavepoint and Commit or Rollback.
type Store interface {
	ResolveModel(ctx context.Context, name string) (modelID int64, fieldCount int, err error)
	// FindByIdentity returns nil, nil when no note has key as its first field.
	FindByIdentity(ctx context.Context, key string) (*models.ExistingNote, error)
	MaxRecordID(ctx context.Context) (int64, error)
	USN(ctx context.Context) (int64, error)
	InsertRecord(ctx context.Context, r models.NewRecord) (affected int64, err error)
	UpdateRecord(ctx context.Context, u models.RecordUpdate) (affected int64, err error)
	ResolveDeck(ctx context.Context, name string) (deckID int64, err error)
	DeckKind(ctx context.Context, deckID int64) (models.DeckKind, error)
	SetLastWriter(ctx context.Context, modelID, deckID int64) error
	NotifyChanged(ctx context.Context, noteIDs []int64) error
	ResortIfRandom(ctx context.Context, deckID int64) error

	BeginSavepoint(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type modelInfo struct {
	id         int64
	fieldCount int
}

// Engine reconciles decks against a Store.
type Engine struct {
	store  Store
	now    func() time.Time
	token  func() string
	logger *slog.Logger

	models map[string]modelInfo
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for new identifiers and modification
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger used for per-group progress.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		now:    time.Now,
		token:  newToken,
		logger: slog.Default(),
		models: make(map[string]modelInfo),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newToken returns a fresh globally unique note token: 32 hex characters.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EncodeFields joins fields into a blob, padding with empty fields up to
// count. Extra fields are kept.
func EncodeFields(fields []string, count int) string {
	if len(fields) < count {
		padded := make([]string, count)
		copy(padded, fields)
		fields = padded
	}
	return strings.Join(fields, FieldSeparator)
}

// EncodeTags renders the stored tag string: a single space when absent,
// otherwise the trimmed tags surrounded by spaces.
func EncodeTags(tags *string) string {
	if tags == nil {
		return " "
	}
	return " " + strings.TrimSpace(*tags) + " "
}

// Apply reconciles every deck inside one savepoint. All decks are attempted
// even after a failure; if any failed, every write is rolled back and a
// *apperr.TransactionError lists the failures.
func (e *Engine) Apply(ctx context.Context, decks []models.Deck) ([]models.DeckResult, error) {
	clear(e.models)

	if err := e.store.BeginSavepoint(ctx); err != nil {
		return nil, fmt.Errorf("reconcile: begin: %w", err)
	}

	var (
		results  []models.DeckResult
		failures []error
	)
	for _, deck := range decks {
		res, errs := e.reconcileDeck(ctx, deck)
		if len(errs) > 0 {
			failures = append(failures, errs...)
			continue
		}
		results = append(results, res)
	}

	if len(failures) > 0 {
		if err := e.store.Rollback(ctx); err != nil {
			failures = append(failures, fmt.Errorf("reconcile: rollback: %w", err))
		}
		e.logger.Warn("reconcile: batch rolled back", slog.Int("failures", len(failures)))
		return nil, &apperr.TransactionError{Failures: failures}
	}

	if err := e.store.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reconcile: commit: %w", err)
	}
	return results, nil
}

// reconcileDeck runs every group of the deck. A failing group does not stop
// its siblings.
func (e *Engine) reconcileDeck(ctx context.Context, deck models.Deck) (models.DeckResult, []error) {
	res := models.DeckResult{Name: deck.Name}
	var errs []error
	for _, g := range deck.Groups {
		added, updated, err := e.ReconcileGroup(ctx, deck.Name, g)
		if err != nil {
			e.logger.Warn("reconcile: group failed",
				slog.String("deck", deck.Name),
				slog.String("model", g.Model),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		res.Added += added
		res.Updated += updated
	}
	return res, errs
}

type pending struct {
	card     models.Card
	existing *models.ExistingNote
}

// ReconcileGroup inserts the new cards of one (deck, model) group and
// updates the changed existing ones. It reports how many notes were inserted
// and updated. Errors are *apperr.ReconcileError.
func (e *Engine) ReconcileGroup(ctx context.Context, deck string, g models.TypeGroup) (added, updated int, err error) {
	fail := func(err error) (int, int, error) {
		return 0, 0, &apperr.ReconcileError{Deck: deck, Model: g.Model, Err: err}
	}

	// Resolution failures concern every card of the group, so they name
	// where those cards came from.
	failGroup := func(err error) (int, int, error) {
		return 0, 0, &apperr.ReconcileError{Deck: deck, Model: g.Model, Sources: groupSources(g), Err: err}
	}

	model, err := e.resolveModel(ctx, g.Model)
	if err != nil {
		return failGroup(err)
	}

	var fresh, known []pending
	for _, card := range g.Cards {
		existing, err := e.store.FindByIdentity(ctx, card.ID())
		if err != nil {
			return fail(err)
		}
		if existing == nil {
			fresh = append(fresh, pending{card: card})
		} else {
			known = append(known, pending{card: card, existing: existing})
		}
	}

	usn, err := e.store.USN(ctx)
	if err != nil {
		return fail(err)
	}
	var changed []int64

	if len(fresh) > 0 {
		next, err := e.nextID(ctx)
		if err != nil {
			return fail(err)
		}
		mod := e.now().Unix()
		for _, p := range fresh {
			id := next
			next++
			n, err := e.store.InsertRecord(ctx, models.NewRecord{
				ID:       id,
				GUID:     e.token(),
				ModelID:  model.id,
				Mod:      mod,
				USN:      usn,
				Tags:     EncodeTags(p.card.Tags),
				Fields:   EncodeFields(p.card.Fields, model.fieldCount),
				Identity: p.card.ID(),
			})
			if err != nil {
				return fail(err)
			}
			if n > 0 {
				changed = append(changed, id)
				added++
			}
		}
	}

	for _, p := range known {
		fields := EncodeFields(p.card.Fields, model.fieldCount)
		tags := EncodeTags(p.card.Tags)
		if fields == p.existing.Fields && tags == p.existing.Tags {
			continue
		}
		n, err := e.store.UpdateRecord(ctx, models.RecordUpdate{
			ID:       p.existing.ID,
			Mod:      e.now().Unix(),
			USN:      usn,
			Tags:     tags,
			Fields:   fields,
			Identity: p.card.ID(),
		})
		if err != nil {
			return fail(err)
		}
		if n > 0 {
			changed = append(changed, p.existing.ID)
			updated++
		}
	}

	deckID, err := e.store.ResolveDeck(ctx, deck)
	if err != nil {
		return failGroup(err)
	}
	if err := e.store.SetLastWriter(ctx, model.id, deckID); err != nil {
		return fail(err)
	}
	kind, err := e.store.DeckKind(ctx, deckID)
	if err != nil {
		return fail(err)
	}
	if kind.Filtered {
		return failGroup(apperr.ErrFilteredDeck)
	}
	if err := e.store.NotifyChanged(ctx, changed); err != nil {
		return fail(err)
	}
	// An unchanged group leaves queue positions alone.
	if len(changed) > 0 {
		if err := e.store.ResortIfRandom(ctx, deckID); err != nil {
			return fail(err)
		}
	}

	e.logger.Debug("reconcile: group done",
		slog.String("deck", deck),
		slog.String("model", g.Model),
		slog.Int("added", added),
		slog.Int("updated", updated))
	return added, updated, nil
}

// groupSources lists the distinct inputs of g in encounter order. Cards
// without a source (hook output) are named by their identity.
func groupSources(g models.TypeGroup) []string {
	seen := make(map[string]bool, len(g.Cards))
	var out []string
	for _, c := range g.Cards {
		name := c.Source
		if name == "" {
			name = c.ID()
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (e *Engine) resolveModel(ctx context.Context, name string) (modelInfo, error) {
	if m, ok := e.models[name]; ok {
		return m, nil
	}
	id, count, err := e.store.ResolveModel(ctx, name)
	if err != nil {
		return modelInfo{}, err
	}
	m := modelInfo{id: id, fieldCount: count}
	e.models[name] = m
	return m, nil
}

// nextID returns the first identifier for this group's inserts: the current
// time in milliseconds, or one past the largest existing id when that is not
// behind the clock.
func (e *Engine) nextID(ctx context.Context) (int64, error) {
	maxID, err := e.store.MaxRecordID(ctx)
	if err != nil {
		return 0, err
	}
	if now := e.now().UnixMilli(); maxID < now {
		return now, nil
	}
	return maxID + 1, nil
}

