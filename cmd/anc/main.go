package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/danisheto/anc/internal"
	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/workspace"
	pkgconfig "github.com/danisheto/anc/pkg/config"
)

var version = "dev"

// exitDataErr is the sysexits status for malformed input.
const exitDataErr = 65

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// env holds what every project command needs.
type env struct {
	project *workspace.Project
	config  *internal.Config
	logger  *slog.Logger
	close   func() error
}

// loadEnv finds the project, loads its config and builds the logger.
// quiet raises the default log level for one-shot commands so that only
// warnings reach the terminal.
func loadEnv(cmd *cli.Command, quiet bool) (*env, error) {
	project, err := workspace.Find(cmd.String("dir"))
	if err != nil {
		return nil, err
	}

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = project.ConfigPath()
	}
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch {
	case cmd.IsSet("log-level"):
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	case quiet && cfg.App.LogLevel < slog.LevelWarn:
		cfg.App.LogLevel = slog.LevelWarn
	}

	logger, closeFn := internal.NewLogger(cfg.App, os.Stderr)
	slog.SetDefault(logger)
	return &env{project: project, config: cfg, logger: logger, close: closeFn}, nil
}

func (e *env) options(cmd *cli.Command) []internal.Option {
	opts := []internal.Option{
		internal.WithConfig(e.config),
		internal.WithProject(e.project),
		internal.WithLogger(e.logger),
		internal.WithVersion(version),
	}
	if p := cmd.String("collection"); p != "" {
		opts = append(opts, internal.WithCollectionPath(p))
	}
	return opts
}

func runInit(_ context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	if _, err := workspace.Init(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errors.New("error creating .anc directory")
	}
	return nil
}

// printFailure writes the report's error lines and picks the exit status.
func printFailure(w io.Writer, rep *pipeline.Report, err error) error {
	for _, line := range rep.Errors {
		fmt.Fprintln(w, line)
	}
	if len(rep.Errors) == 0 {
		fmt.Fprintln(w, err)
	}
	if rep.Status == pipeline.StatusParseError {
		return &exitError{code: exitDataErr, err: err}
	}
	return &exitError{code: 1, err: err}
}

func runSave(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	svc, err := internal.NewPipeline(e.options(cmd)...)
	if err != nil {
		return err
	}
	rep, err := svc.Save(ctx)
	if err != nil {
		return printFailure(os.Stderr, rep, err)
	}
	fmt.Fprintln(os.Stderr, pipeline.FormatResults(rep.Decks))
	return nil
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	svc, err := internal.NewPipeline(e.options(cmd)...)
	if err != nil {
		return err
	}
	rep, err := svc.Check(ctx)
	if err != nil {
		return printFailure(os.Stderr, rep, err)
	}
	fmt.Fprintf(os.Stderr, "%d cards in %d sources\n", rep.Cards, rep.Sources)
	return nil
}

func runWatch(http bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		e, err := loadEnv(cmd, false)
		if err != nil {
			return err
		}
		defer e.close()

		opts := e.options(cmd)
		if http {
			opts = append(opts, internal.WithHTTP())
		}
		if err := internal.Run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()
	return internal.RunMCP(ctx, e.options(cmd)...)
}

func main() {
	cmd := &cli.Command{
		Name:    "anc",
		Usage:   "Keep an Anki collection in sync with plain-text flashcard files",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory to start looking for .anc from",
				Value: ".",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: .anc/config)",
				Sources: cli.EnvVars("ANC_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "collection",
				Usage:   "Path to the collection file, overriding anki_dir",
				Sources: cli.EnvVars("ANC_COLLECTION"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the .anc directory in --dir",
				Action: runInit,
			},
			{
				Name:   "save",
				Usage:  "Parse every card source and save it to the collection",
				Action: runSave,
			},
			{
				Name:   "check",
				Usage:  "Parse every card source without touching the collection",
				Action: runCheck,
			},
			{
				Name:   "watch",
				Usage:  "Save whenever a card source changes",
				Action: runWatch(false),
			},
			{
				Name:   "serve",
				Usage:  "Watch and serve the local HTTP API",
				Action: runWatch(true),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		if errors.Is(err, apperr.ErrNoProject) {
			fmt.Fprintln(os.Stderr, "Not an anc directory. Initialize first.")
			os.Exit(1)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
