// Package hook runs the pre-parse hook of a project. The hook receives the
// discovered source paths on stdin and prints card source on stdout, which
// is parsed in place of the files themselves.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/parser"
)

// Name is the file name of the hook inside the hooks directory.
const Name = "pre-parse"

// Find returns the hook path under hooksDir when it exists as a regular
// file. ok is false when no hook is installed.
func Find(hooksDir string) (path string, ok bool) {
	path = filepath.Join(hooksDir, Name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Run starts the hook at path, feeds it paths and returns its stdout. The
// writer runs in its own goroutine while the caller drains stdout, so a hook
// that interleaves reading and writing cannot deadlock on full pipes.
func Run(ctx context.Context, path string, paths []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("hook: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("hook: stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("hook: start %s: %w", path, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		for _, p := range paths {
			if _, err := io.WriteString(stdin, p+"\n"); err != nil {
				return fmt.Errorf("hook: write path: %w", err)
			}
		}
		return nil
	})

	out, readErr := io.ReadAll(stdout)
	writeErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("hook: %s exited with status %d: %s",
				filepath.Base(path), exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("hook: wait: %w", waitErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("hook: read output: %w", readErr)
	}
	// A hook may exit without reading all of stdin; that only matters if it
	// also failed.
	if writeErr != nil && !errors.Is(writeErr, os.ErrClosed) && !errors.Is(writeErr, syscall.EPIPE) {
		return nil, writeErr
	}
	return out, nil
}

// Stream runs the hook and returns its output as an anonymous parser
// stream. Failures to run the hook are reported as a parse error of the
// hook stream.
func Stream(ctx context.Context, path string, paths []string) (parser.Stream, error) {
	out, err := Run(ctx, path, paths)
	if err != nil {
		return parser.Stream{}, apperr.ParseErrors{{Kind: apperr.KindHook, Err: err}}
	}
	return parser.ReaderStream("", bytes.NewReader(out)), nil
}
