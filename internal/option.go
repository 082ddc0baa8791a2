package internal

import (
	"log/slog"

	"github.com/danisheto/anc/internal/workspace"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	project *workspace.Project
	logger  *slog.Logger
	version string

	http     bool
	collPath string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithProject sets the project the application runs against.
func WithProject(p *workspace.Project) Option {
	return func(a *application) {
		a.project = p
	}
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithHTTP serves the HTTP API alongside the watcher.
func WithHTTP() Option {
	return func(a *application) {
		a.http = true
	}
}

// WithCollectionPath overrides the collection resolved from the config.
func WithCollectionPath(path string) Option {
	return func(a *application) {
		a.collPath = path
	}
}
