package api

import (
	"github.com/danisheto/anc/internal/models"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/sourceservice"
	"github.com/danisheto/anc/internal/workspace"
)

// RunResponse wraps a finished check or save.
type RunResponse struct {
	Report *pipeline.Report `json:"report"`
	Output string           `json:"output,omitempty" example:"1 added and 0 updated to example"`
}

// CheckRequest is the optional body of POST /api/check. When Content is
// set it is parsed on its own instead of the project sources.
type CheckRequest struct {
	Name    string `json:"name" example:"draft.qz"`
	Content string `json:"content"`
}

// CheckContentResponse lists what a standalone content check parsed to.
type CheckContentResponse struct {
	Decks  []models.Deck `json:"decks"`
	Cards  int           `json:"cards"`
	Errors []string      `json:"errors"`
}

// DecksResponse holds the per-deck results of the most recent save.
type DecksResponse struct {
	Decks []models.DeckResult `json:"decks"`
}

// CreateSourceRequest is the request body for creating a source file.
type CreateSourceRequest struct {
	Path    string `json:"path" example:"biology/cells.qz"`
	Content string `json:"content"`
}

// UpdateSourceRequest is the request body for replacing a source file.
type UpdateSourceRequest struct {
	Content string `json:"content"`
}

// SourceListResponse wraps the project's source files.
type SourceListResponse struct {
	Sources []workspace.Source `json:"sources"`
	Total   int                `json:"total" example:"3"`
}

// SourceDetail is the full source response type.
type SourceDetail = sourceservice.SourceDetail
