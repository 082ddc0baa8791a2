package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/sourceservice"
)

// Handler holds API route handlers.
type Handler struct {
	runs    *pipeline.Service
	sources *sourceservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(runs *pipeline.Service, sources *sourceservice.Service) *Handler {
	return &Handler{runs: runs, sources: sources}
}

// sourcePath extracts the source path from the URL (everything after
// /api/sources/). Encoded slashes are accepted.
func sourcePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// runStatus maps a report status to the HTTP status of the response.
func runStatus(status string) int {
	switch status {
	case pipeline.StatusOK:
		return http.StatusOK
	case pipeline.StatusParseError:
		return http.StatusUnprocessableEntity
	case pipeline.StatusSaveError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Save handles POST /api/save.
//
//	@Summary		Parse every source and reconcile it with the collection
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	RunResponse
//	@Failure		422	{object}	RunResponse	"parse errors, nothing written"
//	@Failure		409	{object}	RunResponse	"reconcile errors, rolled back"
//	@Security		BearerAuth
//	@Router			/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runs.Save(r.Context())
	if err != nil {
		slog.Warn("api: save failed", slog.String("status", rep.Status), slog.String("error", err.Error()))
		writeJSON(w, runStatus(rep.Status), RunResponse{Report: rep})
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Report: rep, Output: pipeline.FormatResults(rep.Decks)})
}

// Check handles POST /api/check. With an empty body the project sources
// are parsed; with a CheckRequest body only its content is.
//
//	@Summary		Validate card sources without writing
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CheckRequest	false	"Standalone content"
//	@Success		200		{object}	RunResponse
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Failure		422		{object}	RunResponse
//	@Security		BearerAuth
//	@Router			/check [post]
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	switch err := decodeJSON(w, r, &req); {
	case err == nil:
		h.checkContent(w, req)
		return
	case !errors.Is(err, errEmptyBody):
		writeDecodeError(w, err)
		return
	}

	rep, err := h.runs.Check(r.Context())
	if err != nil {
		writeJSON(w, runStatus(rep.Status), RunResponse{Report: rep})
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Report: rep})
}

func (h *Handler) checkContent(w http.ResponseWriter, req CheckRequest) {
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Name == "" {
		req.Name = "draft" + h.sources.Extension()
	}
	resp := CheckContentResponse{Errors: []string{}}
	decks, err := pipeline.CheckContent(req.Name, req.Content)
	if err != nil {
		var perrs apperr.ParseErrors
		if !errors.As(err, &perrs) {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.Errors = perrs.Lines()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	resp.Decks = decks
	for _, d := range decks {
		resp.Cards += d.CardCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/status.
//
//	@Summary		Most recent run report
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	pipeline.Report
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	last := h.runs.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// Decks handles GET /api/decks.
//
//	@Summary		Per-deck counts of the most recent save
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	DecksResponse
//	@Security		BearerAuth
//	@Router			/decks [get]
func (h *Handler) Decks(w http.ResponseWriter, _ *http.Request) {
	resp := DecksResponse{Decks: []models.DeckResult{}}
	if last := h.runs.Last(); last != nil && last.Kind == pipeline.KindSave && last.Decks != nil {
		resp.Decks = last.Decks
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSources handles GET /api/sources.
//
//	@Summary		List card source files
//	@Tags			sources
//	@Produce		json
//	@Success		200	{object}	SourceListResponse
//	@Security		BearerAuth
//	@Router			/sources [get]
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		slog.Error("api: list sources failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SourceListResponse{Sources: sources, Total: len(sources)})
}

// GetSource handles GET /api/sources/*.
//
//	@Summary		Read a source file and preview its cards
//	@Tags			sources
//	@Produce		json
//	@Param			path	path		string	true	"Source path"
//	@Success		200		{object}	SourceDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [get]
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	path := sourcePath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	d, err := h.sources.Get(r.Context(), path)
	if err != nil {
		writeSourceError(w, "get", path, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateSource handles POST /api/sources.
//
//	@Summary		Create a source file
//	@Tags			sources
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateSourceRequest	true	"Source to create"
//	@Success		201		{object}	SourceDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources [post]
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Path == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "path and content are required")
		return
	}
	d, err := h.sources.Create(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeSourceError(w, "create", req.Path, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// UpdateSource handles PUT /api/sources/*.
//
//	@Summary		Replace a source file with optimistic concurrency
//	@Tags			sources
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Source path"
//	@Param			If-Match	header		string				false	"SHA-256 checksum of the current content"
//	@Param			body		body		UpdateSourceRequest	true	"New content"
//	@Success		200			{object}	SourceDetail
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		413			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [put]
func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	path := sourcePath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	var req UpdateSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	d, err := h.sources.Update(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		writeSourceError(w, "update", path, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteSource handles DELETE /api/sources/*.
//
//	@Summary		Delete a source file
//	@Tags			sources
//	@Param			path	path	string	true	"Source path"
//	@Success		204		"Source deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [delete]
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	path := sourcePath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.sources.Delete(r.Context(), path); err != nil {
		writeSourceError(w, "delete", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSourceError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "source already exists")
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, "checksum mismatch")
	case errors.Is(err, apperr.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: "+op+" source failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
