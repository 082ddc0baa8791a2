// Package testutil provides shared test helpers for setting up collections
// and project directories.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/danisheto/anc/internal/collection"
)

// Baseline creates a freshly seeded collection file once so tests can copy
// it instead of rebuilding the schema. Call it from TestMain and run the
// returned cleanup after m.Run.
func Baseline() (string, func(), error) {
	dir, err := os.MkdirTemp("", "anc-baseline-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, "collection.anki2")
	col, err := collection.Create(path)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if err := col.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// CopyBaseline copies the baseline collection into dir and returns the new path.
func CopyBaseline(t *testing.T, baseline, dir string) string {
	t.Helper()
	src, err := os.Open(baseline)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	path := filepath.Join(dir, "collection.anki2")
	dst, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		t.Fatal(err)
	}
	if err := dst.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// Collection opens a private copy of the baseline collection that is
// closed automatically.
func Collection(t *testing.T, baseline string, opts ...collection.Option) *collection.Collection {
	t.Helper()
	path := CopyBaseline(t, baseline, t.TempDir())
	col, err := collection.Open(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { col.Close() })
	return col
}

// Project creates a temporary project directory containing an initialized
// .anc layout and the given source files, keyed by relative path.
func Project(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".anc", "hooks"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".anc", "config"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	return root
}

// WriteFile writes content to rel under root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
