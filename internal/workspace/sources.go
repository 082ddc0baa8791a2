package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/checksum"
)

// DefaultExtension is the file extension of card sources.
const DefaultExtension = ".qz"

// Source is one card source file found in the project.
type Source struct {
	Path      string    `json:"path"` // absolute
	Rel       string    `json:"rel"`  // slash-separated, relative to the project root
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sources walks the project and returns every file with the given
// extension, in lexical order. The .anc directory is skipped.
func (p *Project) Sources(ext string) ([]Source, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	var out []Source
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == Dir && path != p.root {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ext {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(p.root, path)
		out = append(out, Source{
			Path:      path,
			Rel:       filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list sources: %w", err)
	}
	return out, nil
}

// Fingerprint folds the checksums of sources into one value that changes
// whenever any source is added, removed or edited.
func Fingerprint(sources []Source) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(s.Rel)
		b.WriteByte(0)
		b.WriteString(s.Checksum)
		b.WriteByte('\n')
	}
	return checksum.Sum([]byte(b.String()))
}

// safePath resolves a relative path against the project root and rejects
// any result that escapes it or points into .anc.
func (p *Project) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("workspace: %w: %q", apperr.ErrInvalidPath, rel)
	}
	abs := filepath.Join(p.root, cleaned)
	if !strings.HasPrefix(abs, p.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("workspace: %w: %s escapes project root", apperr.ErrInvalidPath, rel)
	}
	if first, _, _ := strings.Cut(filepath.ToSlash(cleaned), "/"); first == Dir {
		return "", fmt.Errorf("workspace: %w: %s is inside %s", apperr.ErrInvalidPath, rel, Dir)
	}
	return abs, nil
}

// ReadSource returns the content of a source file relative to the root.
func (p *Project) ReadSource(rel string) ([]byte, error) {
	abs, err := p.safePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", rel, err)
	}
	return data, nil
}

// RemoveSource deletes a source file relative to the root.
func (p *Project) RemoveSource(rel string) error {
	abs, err := p.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", rel, err)
	}
	return nil
}

// WriteSource atomically writes a source file: tmp file, fsync, rename.
func (p *Project) WriteSource(rel string, content []byte) error {
	abs, err := p.safePath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".anc-tmp-*")
	if err != nil {
		return fmt.Errorf("workspace: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("workspace: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("workspace: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workspace: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("workspace: rename: %w", err)
	}
	success = true
	return nil
}
