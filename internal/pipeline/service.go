// Package pipeline runs the discover, parse and reconcile steps against one
// project. Every entry point (CLI, watcher, HTTP API, MCP tools) goes through
// a Service so runs never overlap on the collection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/collection"
	"github.com/danisheto/anc/internal/hook"
	"github.com/danisheto/anc/internal/models"
	"github.com/danisheto/anc/internal/parser"
	"github.com/danisheto/anc/internal/reconcile"
	"github.com/danisheto/anc/internal/workspace"
)

// Run kinds.
const (
	KindCheck = "check"
	KindSave  = "save"
)

// Run statuses.
const (
	StatusOK         = "ok"
	StatusParseError = "parse_error"
	StatusSaveError  = "reconcile_error"
	StatusError      = "error"
)

// Report describes one finished run.
type Report struct {
	Kind     string              `json:"kind"`
	Status   string              `json:"status"`
	Sources  int                 `json:"sources"`
	Cards    int                 `json:"cards"`
	Decks    []models.DeckResult `json:"decks,omitempty"`
	Errors   []string            `json:"errors,omitempty"`
	Started  time.Time           `json:"started"`
	Duration time.Duration       `json:"duration"`
}

// Notifier receives every finished report.
type Notifier interface {
	Notify(r Report)
}

// Service coordinates source discovery, parsing and reconciliation.
type Service struct {
	project *workspace.Project
	logger  *slog.Logger

	extension       string
	useHook         bool
	collectionPath  string
	caseInsensitive bool
	now             func() time.Time
	notifiers       []Notifier

	mu   sync.Mutex
	last *Report
}

// Option configures a Service.
type Option func(*Service)

// WithExtension sets the source file extension.
func WithExtension(ext string) Option {
	return func(s *Service) {
		s.extension = ext
	}
}

// WithoutHook skips the pre-parse hook even when one is installed.
func WithoutHook() Option {
	return func(s *Service) {
		s.useHook = false
	}
}

// WithCollection sets the collection file Save reconciles against.
func WithCollection(path string) Option {
	return func(s *Service) {
		s.collectionPath = path
	}
}

// WithCaseInsensitiveMatch makes identity lookups ignore ASCII case.
func WithCaseInsensitiveMatch() Option {
	return func(s *Service) {
		s.caseInsensitive = true
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the clock passed to the collection and engine.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithNotifier registers n to receive every report.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifiers = append(s.notifiers, n)
	}
}

// NewService creates a pipeline over project.
func NewService(project *workspace.Project, opts ...Option) *Service {
	s := &Service{
		project:   project,
		logger:    slog.Default(),
		extension: workspace.DefaultExtension,
		useHook:   true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Project returns the project the service runs against.
func (s *Service) Project() *workspace.Project {
	return s.project
}

// Last returns the most recent report, or nil before the first run.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Check discovers and parses every source without touching the collection.
func (s *Service) Check(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{Kind: KindCheck, Started: s.now()}
	decks, err := s.parse(ctx, r)
	if err == nil {
		r.Cards = countCards(decks)
	}
	return s.finish(r, err)
}

// Save discovers and parses every source and reconciles the result with the
// collection. Nothing is written unless every source parses and every deck
// reconciles.
func (s *Service) Save(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{Kind: KindSave, Started: s.now()}
	decks, err := s.parse(ctx, r)
	if err != nil {
		return s.finish(r, err)
	}
	r.Cards = countCards(decks)

	results, err := s.apply(ctx, decks)
	if err != nil {
		return s.finish(r, err)
	}
	r.Decks = results
	return s.finish(r, nil)
}

func (s *Service) parse(ctx context.Context, r *Report) ([]models.Deck, error) {
	sources, err := s.project.Sources(s.extension)
	if err != nil {
		return nil, err
	}
	r.Sources = len(sources)

	streams, err := s.streams(ctx, sources)
	if err != nil {
		return nil, err
	}
	return parser.NewBatch(streams...).Parse()
}

// streams returns the hook output as a single anonymous stream when a hook
// is installed, and one stream per source file otherwise.
func (s *Service) streams(ctx context.Context, sources []workspace.Source) ([]parser.Stream, error) {
	if s.useHook {
		if path, ok := hook.Find(s.project.HooksDir()); ok {
			paths := make([]string, 0, len(sources))
			for _, src := range sources {
				paths = append(paths, src.Path)
			}
			s.logger.Debug("pipeline: running hook", slog.String("hook", path), slog.Int("sources", len(paths)))
			st, err := hook.Stream(ctx, path, paths)
			if err != nil {
				return nil, err
			}
			return []parser.Stream{st}, nil
		}
	}

	streams := make([]parser.Stream, 0, len(sources))
	for _, src := range sources {
		streams = append(streams, parser.FileStream(src.Rel, src.Path))
	}
	return streams, nil
}

func (s *Service) apply(ctx context.Context, decks []models.Deck) ([]models.DeckResult, error) {
	if s.collectionPath == "" {
		return nil, apperr.ErrNoAnkiDir
	}
	if _, err := os.Stat(s.collectionPath); err != nil {
		return nil, fmt.Errorf("pipeline: open collection: %w", err)
	}
	opts := []collection.Option{collection.WithClock(s.now)}
	if s.caseInsensitive {
		opts = append(opts, collection.WithCaseInsensitiveMatch())
	}
	col, err := collection.Open(s.collectionPath, opts...)
	if err != nil {
		return nil, err
	}
	defer col.Close()

	engine := reconcile.New(col, reconcile.WithClock(s.now), reconcile.WithLogger(s.logger))
	return engine.Apply(ctx, decks)
}

func (s *Service) finish(r *Report, err error) (*Report, error) {
	r.Duration = s.now().Sub(r.Started)

	var (
		parseErrs apperr.ParseErrors
		txErr     *apperr.TransactionError
	)
	switch {
	case err == nil:
		r.Status = StatusOK
	case errors.As(err, &parseErrs):
		r.Status = StatusParseError
		r.Errors = parseErrs.Lines()
	case errors.As(err, &txErr):
		r.Status = StatusSaveError
		for _, f := range txErr.Failures {
			r.Errors = append(r.Errors, f.Error())
		}
	default:
		r.Status = StatusError
		r.Errors = []string{err.Error()}
	}

	s.last = r
	s.logger.Info(fmt.Sprintf("pipeline: %s finished", r.Kind),
		slog.String("status", r.Status),
		slog.Int("sources", r.Sources),
		slog.Int("cards", r.Cards),
		slog.Int("errors", len(r.Errors)))
	for _, n := range s.notifiers {
		n.Notify(*r)
	}
	return r, err
}

func countCards(decks []models.Deck) int {
	n := 0
	for _, d := range decks {
		n += d.CardCount()
	}
	return n
}

// CheckContent parses content as a single named source without reading the
// project. It backs editor and agent integrations that validate cards
// before writing them.
func CheckContent(name, content string) ([]models.Deck, error) {
	return parser.NewBatch(parser.StringStream(name, content)).Parse()
}
