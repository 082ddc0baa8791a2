// Package sourceservice reads and writes card source files on behalf of the
// HTTP API and the MCP server.
package sourceservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/checksum"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/workspace"
)

// SourceDetail is the full representation of a source file together with
// a preview of what it parses to.
type SourceDetail struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Checksum  string    `json:"checksum"`
	Decks     []string  `json:"decks"`
	Cards     int       `json:"cards"`
	Errors    []string  `json:"errors"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service coordinates source file access inside one project.
type Service struct {
	project   *workspace.Project
	extension string
	now       func() time.Time
}

// NewService creates a source service. Only files with ext can be written.
func NewService(project *workspace.Project, ext string) *Service {
	if ext == "" {
		ext = workspace.DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Service{project: project, extension: ext, now: time.Now}
}

// Extension returns the source extension the service accepts.
func (s *Service) Extension() string { return s.extension }

// List returns every source in the project.
func (s *Service) List(_ context.Context) ([]workspace.Source, error) {
	sources, err := s.project.Sources(s.extension)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(sources), nil
}

// Get reads a source and previews its cards.
func (s *Service) Get(_ context.Context, rel string) (*SourceDetail, error) {
	data, err := s.project.ReadSource(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildDetail(rel, data), nil
}

// Create writes a new source. It fails with apperr.ErrAlreadyExists when
// the file is present.
func (s *Service) Create(_ context.Context, rel string, content []byte) (*SourceDetail, error) {
	if err := s.checkExtension(rel); err != nil {
		return nil, err
	}
	if _, err := s.project.ReadSource(rel); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.project.WriteSource(rel, content); err != nil {
		return nil, err
	}
	return s.buildDetail(rel, content), nil
}

// Update replaces a source. A non-empty ifMatch must equal the checksum of
// the current content or apperr.ErrConflict is returned.
func (s *Service) Update(_ context.Context, rel string, content []byte, ifMatch string) (*SourceDetail, error) {
	if err := s.checkExtension(rel); err != nil {
		return nil, err
	}
	existing, err := s.project.ReadSource(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := s.project.WriteSource(rel, content); err != nil {
		return nil, err
	}
	return s.buildDetail(rel, content), nil
}

// Put creates or replaces a source without a concurrency check.
func (s *Service) Put(_ context.Context, rel string, content []byte) (*SourceDetail, error) {
	if err := s.checkExtension(rel); err != nil {
		return nil, err
	}
	if err := s.project.WriteSource(rel, content); err != nil {
		return nil, err
	}
	return s.buildDetail(rel, content), nil
}

// Delete removes a source.
func (s *Service) Delete(_ context.Context, rel string) error {
	if err := s.project.RemoveSource(rel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Service) checkExtension(rel string) error {
	if path.Ext(rel) != s.extension {
		return fmt.Errorf("sourceservice: %w: %s does not end in %s", apperr.ErrInvalidPath, rel, s.extension)
	}
	return nil
}

// buildDetail parses data as the named source. Parse failures are reported
// in the detail, not as an error, so callers can still see the content.
func (s *Service) buildDetail(rel string, data []byte) *SourceDetail {
	d := &SourceDetail{
		Path:      rel,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		Decks:     []string{},
		Errors:    []string{},
		UpdatedAt: s.now(),
	}
	decks, err := pipeline.CheckContent(rel, string(data))
	if err != nil {
		var perrs apperr.ParseErrors
		if errors.As(err, &perrs) {
			d.Errors = perrs.Lines()
		} else {
			d.Errors = []string{err.Error()}
		}
		return d
	}
	for _, deck := range decks {
		d.Decks = append(d.Decks, deck.Name)
		d.Cards += deck.CardCount()
	}
	return d
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
