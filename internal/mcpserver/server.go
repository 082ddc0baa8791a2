// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes anc tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/sourceservice"
)

const cardFormatURI = "anc://card-format"

// Server wraps the MCP server with anc tools.
type Server struct {
	mcp     *server.MCPServer
	runs    *pipeline.Service
	sources *sourceservice.Service
}

// New creates a new MCP server with all anc tools registered.
func New(runs *pipeline.Service, sources *sourceservice.Service, version string) *Server {
	s := &Server{runs: runs, sources: sources}

	s.mcp = server.NewMCPServer(
		"anc",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("check_cards",
		mcp.WithDescription("Parse card source text without writing anything. "+
			"Returns the decks and cards it would produce, or every parse error."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Card source text")),
		mcp.WithString("name", mcp.Description("Source name used to derive ids of cards without an explicit id")),
	), s.checkCards)

	s.mcp.AddTool(mcp.NewTool("save_cards",
		mcp.WithDescription("Parse every card source in the project and reconcile it with the "+
			"collection. Nothing is written unless every source parses and every deck saves."),
	), s.saveCards)

	s.mcp.AddTool(mcp.NewTool("write_source",
		mcp.WithDescription("Create or replace a card source file in the project. "+
			"Content MUST follow the card format; read it first via get_card_format or the "+
			cardFormatURI+" resource. Call save_cards afterwards to apply it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the source (must end with .qz)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Card source text")),
	), s.writeSource)

	s.mcp.AddTool(mcp.NewTool("read_source",
		mcp.WithDescription("Read a card source file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the source")),
	), s.readSource)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the card source files of the project."),
	), s.listSources)

	s.mcp.AddTool(mcp.NewTool("get_card_format",
		mcp.WithDescription("Returns the card source format contract. "+
			"Call this before writing cards."),
	), s.getCardFormat)

	s.mcp.AddResource(
		mcp.NewResource(cardFormatURI, "Card Format Contract",
			mcp.WithResourceDescription("Card source format that all .qz files must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCardFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type checkResult struct {
	Decks []string `json:"decks"`
	Cards int      `json:"cards"`
	IDs   []string `json:"ids"`
}

func (s *Server) checkCards(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := req.GetString("name", "draft"+s.sources.Extension())

	decks, err := pipeline.CheckContent(name, content)
	if err != nil {
		return mcp.NewToolResultError(errorText(err)), nil
	}
	res := checkResult{Decks: []string{}, IDs: []string{}}
	for _, d := range decks {
		res.Decks = append(res.Decks, d.Name)
		for _, g := range d.Groups {
			for _, c := range g.Cards {
				res.IDs = append(res.IDs, c.ID())
			}
		}
		res.Cards += d.CardCount()
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) saveCards(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.runs.Save(ctx)
	if err != nil {
		return mcp.NewToolResultError(strings.Join(rep.Errors, "\n")), nil
	}
	return mcp.NewToolResultText(pipeline.FormatResults(rep.Decks)), nil
}

func (s *Server) writeSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.sources.Put(ctx, path, []byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(d.Errors) > 0 {
		return mcp.NewToolResultError(fmt.Sprintf("written: %s, but it does not parse:\n%s",
			path, strings.Join(d.Errors, "\n"))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s (%d cards)", path, d.Cards)), nil
}

func (s *Server) readSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.sources.Get(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(d.Content), nil
}

func (s *Server) listSources(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(sources))
	for _, src := range sources {
		paths = append(paths, src.Rel)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getCardFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CardFormatContract), nil
}

func (s *Server) readCardFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      cardFormatURI,
			MIMEType: "text/markdown",
			Text:     CardFormatContract,
		},
	}, nil
}

func errorText(err error) string {
	var perrs apperr.ParseErrors
	if errors.As(err, &perrs) {
		return strings.Join(perrs.Lines(), "\n")
	}
	return err.Error()
}
